package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"llcstack/internal/types"
)

// ValidationError describes a single field failure returned to the client.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult separates blocking errors from advisory warnings.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []string
}

// IsValid reports whether the result carries no blocking errors.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator and registers the checkout tags:
//
//	state_code           two uppercase ASCII letters
//	checkout_session_id  a hosted checkout session identifier (cs_ prefix)
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator that reports fields by their JSON names.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("state_code", validateStateCode); err != nil {
		// Registration only fails on an empty tag or nil func.
		panic(fmt.Sprintf("core: register state_code: %v", err))
	}
	if err := v.RegisterValidation("checkout_session_id", validateCheckoutSessionID); err != nil {
		panic(fmt.Sprintf("core: register checkout_session_id: %v", err))
	}

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates s and returns an AppError whose code is taken from
// the first failing field. All failures are listed under
// Details["validation_errors"].
func (v *Validator) ValidateStruct(s any) error {
	result := v.ValidateStructWithWarnings(s)
	if result.IsValid() {
		return nil
	}

	first := result.Errors[0]
	return types.NewAppErrorWithDetails(
		types.ErrorCode(first.Code),
		first.Message,
		nil,
		map[string]any{"validation_errors": result.Errors},
	)
}

// ValidateStructWithWarnings collects every field failure instead of
// stopping at the first. Warnings are reserved for soft checks.
func (v *Validator) ValidateStructWithWarnings(s any) ValidationResult {
	err := v.validate.Struct(s)
	if err == nil {
		return ValidationResult{}
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		// InvalidValidationError: a programming error such as passing nil.
		v.logger.Error("validator received a non-struct value", "error", err, "type", fmt.Sprintf("%T", s))
		return ValidationResult{Errors: []ValidationError{{
			Field:   "",
			Code:    string(types.ErrCodeValidationInvalidJSON),
			Message: "request body could not be validated",
		}}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, toValidationError(fe))
	}
	return ValidationResult{Errors: out}
}

func toValidationError(fe validator.FieldError) ValidationError {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return ValidationError{
			Field:   field,
			Code:    string(types.ErrCodeValidationMissingField),
			Message: fmt.Sprintf("%s is required", field),
		}
	case "email":
		return ValidationError{
			Field:   field,
			Code:    string(types.ErrCodeValidationInvalidEmail),
			Message: fmt.Sprintf("%s must be a valid email address", field),
		}
	case "state_code":
		return ValidationError{
			Field:   field,
			Code:    string(types.ErrCodeValidationUnsupportedRegion),
			Message: fmt.Sprintf("%s must be a two-letter state code", field),
		}
	case "checkout_session_id":
		return ValidationError{
			Field:   field,
			Code:    string(types.ErrCodeValidationInvalidSessionID),
			Message: fmt.Sprintf("%s must be a checkout session identifier", field),
		}
	case "max":
		return ValidationError{
			Field:   field,
			Code:    string(types.ErrCodeValidationInvalidField),
			Message: fmt.Sprintf("%s must be at most %s characters", field, fe.Param()),
		}
	default:
		return ValidationError{
			Field:   field,
			Code:    string(types.ErrCodeValidationInvalidField),
			Message: fmt.Sprintf("%s failed %s validation", field, fe.Tag()),
		}
	}
}

func validateStateCode(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) != 2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

func validateCheckoutSessionID(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return strings.HasPrefix(s, "cs_") && len(s) > len("cs_")
}
