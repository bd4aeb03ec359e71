package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"llcstack/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// stripeAPIBase is the default Stripe API base URL.
const stripeAPIBase = "https://api.stripe.com"

const defaultUserAgent = "LLCStack/1.0"

// DefaultStripeTimeout bounds every outbound Stripe call when the config
// does not set one.
const DefaultStripeTimeout = 20 * time.Second

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Timeout   time.Duration
	UserAgent string // defaults to defaultUserAgent
	Logger    *slog.Logger
}

// StripeClient implements PaymentProcessor with form-encoded calls to the
// Stripe REST API, routed through BaseClient.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient whose http.Client is bounded by
// cfg.Timeout (DefaultStripeTimeout when zero).
func NewStripeClient(cfg StripeClientConfig) *StripeClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultStripeTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	base := NewBaseClient(
		&http.Client{Timeout: timeout},
		"stripe",
		DefaultRetryPolicy(),
		userAgent,
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient on a pre-configured BaseClient.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

// FindCustomerByEmail returns the first customer with the given email, or
// (nil, nil) when none exists.
func (s *StripeClient) FindCustomerByEmail(ctx context.Context, email string) (*types.Customer, error) {
	params := url.Values{}
	params.Set("email", email)
	params.Set("limit", "1")

	var list stripeCustomerList
	if err := s.call(ctx, http.MethodGet, "/v1/customers", params, "FindCustomerByEmail", &list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	c := list.Data[0]
	return &types.Customer{ID: c.ID, Email: c.Email}, nil
}

// CreateCustomer creates a customer record for the email.
func (s *StripeClient) CreateCustomer(ctx context.Context, email string) (*types.Customer, error) {
	params := url.Values{}
	params.Set("email", email)

	var c stripeCustomer
	if err := s.call(ctx, http.MethodPost, "/v1/customers", params, "CreateCustomer", &c); err != nil {
		return nil, err
	}
	return &types.Customer{ID: c.ID, Email: c.Email}, nil
}

// ---------------------------------------------------------------------------
// Checkout Sessions
// ---------------------------------------------------------------------------

// CreateCheckoutSession creates a hosted Checkout Session. One-time items
// are sent as inline price_data in USD; recurring items reference a price.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, p types.CheckoutSessionParams) (*types.CheckoutSession, error) {
	params := url.Values{}
	params.Set("mode", string(p.Mode))
	params.Set("customer", p.CustomerID)
	params.Set("success_url", p.URLs.Success)
	params.Set("cancel_url", p.URLs.Cancel)
	encodeLineItems(params, p.Items)
	encodeMetadata(params, "metadata", p.Metadata)
	if p.Mode == types.ModePayment && p.SaveCardForLater {
		params.Set("payment_intent_data[setup_future_usage]", "off_session")
	}

	var sess stripeCheckoutSession
	if err := s.call(ctx, http.MethodPost, "/v1/checkout/sessions", params, "CreateCheckoutSession", &sess); err != nil {
		return nil, err
	}
	return sess.toDomain(), nil
}

// GetCheckoutSession retrieves a Checkout Session by ID. A 404 from Stripe
// maps to not_found_checkout_session.
func (s *StripeClient) GetCheckoutSession(ctx context.Context, sessionID string) (*types.CheckoutSession, error) {
	path := "/v1/checkout/sessions/" + url.PathEscape(sessionID)

	var sess stripeCheckoutSession
	if err := s.call(ctx, http.MethodGet, path, nil, "GetCheckoutSession", &sess); err != nil {
		return nil, err
	}
	return sess.toDomain(), nil
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// CreateSubscription creates a subscription with payment_behavior
// default_incomplete, so the first invoice is created without requiring an
// immediate successful charge.
func (s *StripeClient) CreateSubscription(ctx context.Context, p types.SubscriptionParams) (*types.Subscription, error) {
	params := url.Values{}
	params.Set("customer", p.CustomerID)
	params.Set("items[0][price]", p.PriceID)
	params.Set("payment_behavior", "default_incomplete")
	params.Add("expand[]", "latest_invoice.payment_intent")
	encodeMetadata(params, "metadata", p.Metadata)

	var sub stripeSubscription
	if err := s.call(ctx, http.MethodPost, "/v1/subscriptions", params, "CreateSubscription", &sub); err != nil {
		return nil, err
	}
	return sub.toDomain(), nil
}

// maxSubscriptionPages bounds FindSubscription's pagination.
const maxSubscriptionPages = 10

// FindSubscription returns the first subscription of the customer, in any
// status, whose metadata contains every pair in match. It returns (nil, nil)
// when none does. The list endpoint is read directly rather than through
// search, which lags writes.
func (s *StripeClient) FindSubscription(ctx context.Context, customerID string, match map[string]string) (*types.Subscription, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("status", "all")
	params.Set("limit", "100")

	for page := 0; page < maxSubscriptionPages; page++ {
		var list stripeSubscriptionList
		if err := s.call(ctx, http.MethodGet, "/v1/subscriptions", params, "FindSubscription", &list); err != nil {
			return nil, err
		}
		for i := range list.Data {
			if metadataContains(list.Data[i].Metadata, match) {
				return list.Data[i].toDomain(), nil
			}
		}
		if !list.HasMore || len(list.Data) == 0 {
			return nil, nil
		}
		params.Set("starting_after", list.Data[len(list.Data)-1].ID)
	}
	return nil, types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("FindSubscription: customer %s has more than %d pages of subscriptions", customerID, maxSubscriptionPages),
		nil,
	)
}

func metadataContains(md, match map[string]string) bool {
	for k, v := range match {
		if md[k] != v {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Request plumbing
// ---------------------------------------------------------------------------

// call performs one Stripe request and decodes a 200 body into out.
func (s *StripeClient) call(ctx context.Context, method, path string, params url.Values, operation string, out any) error {
	var (
		resp *http.Response
		err  error
	)
	if method == http.MethodGet {
		resp, err = s.doGet(ctx, path, params)
	} else {
		resp, err = s.doPost(ctx, path, params)
	}
	if err != nil {
		return s.wrapStripeError(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, operation)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: failed to decode Stripe response", operation),
			err,
		)
	}
	return nil
}

func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

func encodeLineItems(params url.Values, items []types.LineItem) {
	for i, li := range items {
		prefix := "line_items[" + strconv.Itoa(i) + "]"
		params.Set(prefix+"[quantity]", "1")
		if li.IsRecurring() {
			params.Set(prefix+"[price]", li.PriceID)
			continue
		}
		params.Set(prefix+"[price_data][currency]", "usd")
		params.Set(prefix+"[price_data][product_data][name]", li.Label)
		params.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(li.AmountCents, 10))
	}
}

func encodeMetadata(params url.Values, field string, md map[string]string) {
	for k, v := range md {
		params.Set(field+"["+k+"]", v)
	}
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a non-200 Stripe response and maps it to an AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with an unreadable body", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}
	return s.mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

func (s *StripeClient) mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	details := map[string]any{
		"stripe_type": stripeErr.Type,
		"stripe_code": stripeErr.Code,
	}
	if stripeErr.Param != "" {
		details["param"] = stripeErr.Param
	}

	if stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "" {
		details["decline_code"] = stripeErr.DeclineCode
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, stripeErr.Message),
			nil,
			details,
		)
	}

	switch {
	case statusCode == http.StatusNotFound && operation == "GetCheckoutSession":
		return types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundCheckoutSession,
			"checkout session not found",
			nil,
			details,
		)
	case statusCode == http.StatusNotFound:
		return types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundCustomer,
			fmt.Sprintf("%s: Stripe resource not found: %s", operation, stripeErr.Message),
			nil,
			details,
		)
	default:
		s.logger.Warn("stripe request rejected",
			"operation", operation,
			"status", statusCode,
			"stripe_type", stripeErr.Type,
			"stripe_code", stripeErr.Code,
		)
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
			details,
		)
	}
}

// wrapStripeError passes BaseClient AppErrors through and wraps anything
// else as an upstream Stripe failure.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	if _, ok := types.AsAppError(err); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed", operation),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type stripeCustomerList struct {
	Data    []stripeCustomer `json:"data"`
	HasMore bool             `json:"has_more"`
}

type stripeCheckoutSession struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	Status          string            `json:"status"`
	PaymentStatus   string            `json:"payment_status"`
	Mode            string            `json:"mode"`
	Customer        string            `json:"customer"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// toDomain prefers customer_details.email, which Stripe fills after the
// buyer completes the hosted page.
func (cs *stripeCheckoutSession) toDomain() *types.CheckoutSession {
	email := cs.CustomerEmail
	if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
		email = cs.CustomerDetails.Email
	}
	return &types.CheckoutSession{
		ID:            cs.ID,
		URL:           cs.URL,
		Status:        cs.Status,
		PaymentStatus: cs.PaymentStatus,
		Mode:          types.CheckoutMode(cs.Mode),
		CustomerID:    cs.Customer,
		CustomerEmail: email,
		Metadata:      cs.Metadata,
	}
}

type stripeSubscription struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Customer string            `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

func (sub *stripeSubscription) toDomain() *types.Subscription {
	return &types.Subscription{ID: sub.ID, Status: sub.Status, Customer: sub.Customer, Metadata: sub.Metadata}
}

type stripeSubscriptionList struct {
	Data    []stripeSubscription `json:"data"`
	HasMore bool                 `json:"has_more"`
}

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// DefaultWebhookTolerance is the replay window applied to signed events.
const DefaultWebhookTolerance = webhook.DefaultTolerance

// StripeVerifier implements WebhookVerifier with stripe-go's HMAC-SHA256
// signature check and a timestamp tolerance.
type StripeVerifier struct {
	Tolerance time.Duration
}

// Verify checks the Stripe-Signature header against the raw payload.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}
	return webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance)
}
