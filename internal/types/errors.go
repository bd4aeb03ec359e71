package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and services use these instead of
// hardcoded strings; the prefix determines the HTTP status.
const (
	// Validation (400). Never retried.
	ErrCodeValidationMissingField        ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidEmail        ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidJSON         ErrorCode = "validation_invalid_json"
	ErrCodeValidationInvalidField        ErrorCode = "validation_invalid_field"
	ErrCodeValidationUnsupportedRegion   ErrorCode = "validation_unsupported_region"
	ErrCodeValidationAddOnUnavailable    ErrorCode = "validation_addon_unavailable"
	ErrCodeValidationInvalidSessionID    ErrorCode = "validation_invalid_session_id"
	ErrCodeValidationInvalidDeferredKind ErrorCode = "validation_invalid_deferred_kind"

	// Signature (400). Inbound events failing verification are rejected unprocessed.
	ErrCodeSignatureMissing ErrorCode = "signature_missing"
	ErrCodeSignatureInvalid ErrorCode = "signature_invalid"

	// Payment (402). A normal outcome of verification, not a fault.
	ErrCodePaymentIncomplete ErrorCode = "payment_incomplete"
	ErrCodePaymentDeclined   ErrorCode = "payment_declined"

	// Not Found (404)
	ErrCodeNotFoundCheckoutSession ErrorCode = "not_found_checkout_session"
	ErrCodeNotFoundCustomer        ErrorCode = "not_found_customer"
	ErrCodeNotFoundRoute           ErrorCode = "not_found_route"

	// Method Not Allowed (405)
	ErrCodeMethodNotAllowed ErrorCode = "method_not_allowed"

	// Rate Limit (429)
	ErrCodeRateLimit ErrorCode = "rate_limit_exceeded"

	// Internal (500)
	ErrCodeInternalDB             ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected     ErrorCode = "internal_unexpected_error"
	ErrCodeInternalConfiguration  ErrorCode = "internal_configuration_error"
	ErrCodeInternalAbandonedClaim ErrorCode = "internal_abandoned_claim"

	// Upstream (502/504). Processor failures.
	ErrCodeUpstreamStripe      ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamTimeout     ErrorCode = "upstream_timeout"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "signature_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "payment_"):
		return http.StatusPaymentRequired // 402
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case s == string(ErrCodeMethodNotAllowed):
		return http.StatusMethodNotAllowed // 405
	case s == string(ErrCodeRateLimit):
		return http.StatusTooManyRequests // 429
	case s == string(ErrCodeUpstreamTimeout):
		return http.StatusGatewayTimeout // 504
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// Retryable reports whether a failure with this code may succeed if the
// same request is attempted again later. Validation and signature failures
// never are.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrCodeUpstreamStripe,
		ErrCodeUpstreamUnavailable,
		ErrCodeUpstreamRateLimited,
		ErrCodeUpstreamTimeout,
		ErrCodeInternalDB:
		return true
	default:
		return false
	}
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors are expressed as AppError to get consistent
// error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// IsRetryable reports whether err carries an AppError whose code is retryable.
// Errors that are not AppErrors are treated as not retryable.
func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	if !ok {
		return false
	}
	return appErr.Code.Retryable()
}

// AsAppError extracts the first *AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
