package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"llcstack/internal/checkout"
	"llcstack/internal/core"
	"llcstack/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type mockComposer struct {
	composeFn func(ctx context.Context, req checkout.ComposeRequest) (*checkout.ComposeResult, error)
	calls     []checkout.ComposeRequest
}

func (m *mockComposer) Compose(ctx context.Context, req checkout.ComposeRequest) (*checkout.ComposeResult, error) {
	m.calls = append(m.calls, req)
	if m.composeFn != nil {
		return m.composeFn(ctx, req)
	}
	return &checkout.ComposeResult{
		URL:       "https://checkout.stripe.com/c/pay/cs_test_1",
		SessionID: "cs_test_1",
		Mode:      types.ModePayment,
	}, nil
}

type mockVerifier struct {
	verifyFn func(ctx context.Context, sessionID string) (*checkout.VerifiedContext, error)
	calls    []string
}

func (m *mockVerifier) Verify(ctx context.Context, sessionID string) (*checkout.VerifiedContext, error) {
	m.calls = append(m.calls, sessionID)
	if m.verifyFn != nil {
		return m.verifyFn(ctx, sessionID)
	}
	return &checkout.VerifiedContext{Paid: true, SessionID: sessionID}, nil
}

// =============================================================================
// Helpers
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCheckoutRouter(c CheckoutComposer, v CheckoutVerifier) *chi.Mux {
	h := NewCheckoutHandler(c, v, core.NewValidator(testLogger()), testLogger())
	r := chi.NewRouter()
	r.Route("/v1", h.RegisterRoutes)
	return r
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp core.APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error.Code
}

func validComposeBody() map[string]any {
	return map[string]any{
		"customer_id": "usr_1",
		"email":       "owner@example.com",
		"entity_id":   "ent_1",
		"state":       "FL",
		"add_ons":     map[string]bool{"ra": true, "mail_forwarding": true},
		"legal_name":  "Acme Holdings LLC",
	}
}

// =============================================================================
// POST /v1/checkout
// =============================================================================

func TestCheckoutCreate_Success(t *testing.T) {
	composer := &mockComposer{composeFn: func(ctx context.Context, req checkout.ComposeRequest) (*checkout.ComposeResult, error) {
		return &checkout.ComposeResult{
			URL:       "https://checkout.stripe.com/c/pay/cs_test_9",
			SessionID: "cs_test_9",
			Mode:      types.ModeSubscription,
			Deferred:  types.DeferredMail,
		}, nil
	}}
	router := newCheckoutRouter(composer, &mockVerifier{})

	rec := postJSON(t, router, "/v1/checkout", validComposeBody())

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res checkout.ComposeResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.SessionID != "cs_test_9" || res.Mode != types.ModeSubscription || res.Deferred != types.DeferredMail {
		t.Errorf("unexpected result %+v", res)
	}

	if len(composer.calls) != 1 {
		t.Fatalf("expected one Compose call, got %d", len(composer.calls))
	}
	got := composer.calls[0]
	if got.CustomerRef != "usr_1" || got.EntityRef != "ent_1" || got.State != "FL" || got.LegalName != "Acme Holdings LLC" {
		t.Errorf("request not passed through: %+v", got)
	}
}

func TestCheckoutCreate_UnknownAddOnKeysIgnored(t *testing.T) {
	composer := &mockComposer{}
	router := newCheckoutRouter(composer, &mockVerifier{})

	body := validComposeBody()
	body["add_ons"] = map[string]any{"ra": true, "ein": true, "apostille": true}
	rec := postJSON(t, router, "/v1/checkout", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(composer.calls) != 1 {
		t.Fatalf("expected one Compose call, got %d", len(composer.calls))
	}
	if want := (types.AddOnSelection{RA: true, EIN: true}); composer.calls[0].AddOns != want {
		t.Errorf("add-ons = %+v, want %+v", composer.calls[0].AddOns, want)
	}

	body = validComposeBody()
	body["coupon"] = "FREE"
	if rec := postJSON(t, router, "/v1/checkout", body); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown top-level field: expected 400, got %d", rec.Code)
	}
}

func TestCheckoutCreate_ValidationFailuresNeverCompose(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
		want   types.ErrorCode
	}{
		{"missing customer", func(b map[string]any) { delete(b, "customer_id") }, types.ErrCodeValidationMissingField},
		{"missing entity", func(b map[string]any) { b["entity_id"] = "" }, types.ErrCodeValidationMissingField},
		{"missing state", func(b map[string]any) { delete(b, "state") }, types.ErrCodeValidationMissingField},
		{"bad email", func(b map[string]any) { b["email"] = "owner-at-example" }, types.ErrCodeValidationInvalidEmail},
		{"lowercase state", func(b map[string]any) { b["state"] = "fl" }, types.ErrCodeValidationUnsupportedRegion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			composer := &mockComposer{}
			router := newCheckoutRouter(composer, &mockVerifier{})

			body := validComposeBody()
			tt.mutate(body)
			rec := postJSON(t, router, "/v1/checkout", body)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if got := errorCode(t, rec); got != string(tt.want) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if len(composer.calls) != 0 {
				t.Error("composer must not be called on validation failure")
			}
		})
	}
}

func TestCheckoutCreate_MalformedJSON(t *testing.T) {
	composer := &mockComposer{}
	router := newCheckoutRouter(composer, &mockVerifier{})

	for _, body := range []string{`{"state":`, `{"state":"FL","coupon":"FREE"}`, ``} {
		rec := postJSON(t, router, "/v1/checkout", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%q: expected 400, got %d", body, rec.Code)
		}
		if got := errorCode(t, rec); got != string(types.ErrCodeValidationInvalidJSON) {
			t.Errorf("%q: unexpected code %s", body, got)
		}
	}
	if len(composer.calls) != 0 {
		t.Error("composer must not be called")
	}
}

func TestCheckoutCreate_ComposerErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrCodeValidationUnsupportedRegion, http.StatusBadRequest},
		{types.ErrCodeValidationAddOnUnavailable, http.StatusBadRequest},
		{types.ErrCodeUpstreamStripe, http.StatusBadGateway},
		{types.ErrCodeUpstreamTimeout, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			composer := &mockComposer{composeFn: func(context.Context, checkout.ComposeRequest) (*checkout.ComposeResult, error) {
				return nil, types.NewAppError(tt.code, "failed", nil)
			}}
			rec := postJSON(t, newCheckoutRouter(composer, &mockVerifier{}), "/v1/checkout", validComposeBody())

			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			if got := errorCode(t, rec); got != string(tt.code) {
				t.Errorf("expected %s, got %s", tt.code, got)
			}
		})
	}
}

// =============================================================================
// POST /v1/checkout/verify
// =============================================================================

func TestCheckoutVerify_Paid(t *testing.T) {
	verifier := &mockVerifier{verifyFn: func(ctx context.Context, id string) (*checkout.VerifiedContext, error) {
		return &checkout.VerifiedContext{
			Paid:             true,
			SessionID:        id,
			CustomerEmail:    "owner@example.com",
			StripeCustomerID: "cus_1",
			CustomerRef:      "usr_1",
			EntityRef:        "ent_1",
			State:            "WY",
			AddOns:           types.AddOnSelection{EIN: true},
		}, nil
	}}
	router := newCheckoutRouter(&mockComposer{}, verifier)

	rec := postJSON(t, router, "/v1/checkout/verify", map[string]string{"session_id": "cs_test_abc"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var vc checkout.VerifiedContext
	if err := json.Unmarshal(rec.Body.Bytes(), &vc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !vc.Paid || vc.StripeCustomerID != "cus_1" || vc.State != "WY" || !vc.AddOns.EIN {
		t.Errorf("unexpected context %+v", vc)
	}
	if len(verifier.calls) != 1 || verifier.calls[0] != "cs_test_abc" {
		t.Errorf("unexpected verifier calls %v", verifier.calls)
	}
}

func TestCheckoutVerify_RejectsNonSessionIDs(t *testing.T) {
	verifier := &mockVerifier{}
	router := newCheckoutRouter(&mockComposer{}, verifier)

	for _, id := range []string{"", "sub_123", "cs_"} {
		rec := postJSON(t, router, "/v1/checkout/verify", map[string]string{"session_id": id})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%q: expected 400, got %d", id, rec.Code)
		}
	}
	if len(verifier.calls) != 0 {
		t.Error("verifier must not be called for malformed ids")
	}
}

func TestCheckoutVerify_ErrorStatuses(t *testing.T) {
	tests := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrCodePaymentIncomplete, http.StatusPaymentRequired},
		{types.ErrCodeNotFoundCheckoutSession, http.StatusNotFound},
		{types.ErrCodeUpstreamUnavailable, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			verifier := &mockVerifier{verifyFn: func(context.Context, string) (*checkout.VerifiedContext, error) {
				return nil, types.NewAppError(tt.code, "x", nil)
			}}
			rec := postJSON(t, newCheckoutRouter(&mockComposer{}, verifier), "/v1/checkout/verify",
				map[string]string{"session_id": "cs_test_1"})

			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}
