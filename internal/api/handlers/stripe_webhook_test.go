package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"llcstack/internal/checkout"
	"llcstack/internal/external"
	"llcstack/internal/types"
)

const testWebhookSecret = "whsec_test_secret"

// =============================================================================
// Mock Implementations
// =============================================================================

type mockReconciler struct {
	reconcileFn func(ctx context.Context, ev checkout.CompletionEvent) (checkout.ReconcileResult, error)
	calls       []checkout.CompletionEvent
}

func (m *mockReconciler) Reconcile(ctx context.Context, ev checkout.CompletionEvent) (checkout.ReconcileResult, error) {
	m.calls = append(m.calls, ev)
	if m.reconcileFn != nil {
		return m.reconcileFn(ctx, ev)
	}
	return checkout.ReconcileResult{State: types.ReconcileNoOp, Reason: checkout.ReasonNothingDeferred}, nil
}

// =============================================================================
// Helpers
// =============================================================================

func newWebhookRouter(secret string, rec CompletionReconciler) *chi.Mux {
	h := NewStripeWebhookHandler(&external.StripeVerifier{Tolerance: 5 * time.Minute}, rec, secret, testLogger())
	r := chi.NewRouter()
	r.Route("/webhooks", h.RegisterRoutes)
	return r
}

func eventPayload(t *testing.T, id, eventType string, object map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return b
}

func completedSession(deferred string) map[string]any {
	return map[string]any{
		"id":       "cs_test_1",
		"object":   "checkout.session",
		"customer": "cus_1",
		"metadata": map[string]string{
			types.MetaState:    "FL",
			types.MetaDeferred: deferred,
		},
	}
}

func deliver(handler http.Handler, payload []byte, sigHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if sigHeader != "" {
		req.Header.Set("Stripe-Signature", sigHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func signed(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	}).Header
}

// =============================================================================
// Tests
// =============================================================================

func TestStripeWebhook_CompletedCheckoutIsReconciled(t *testing.T) {
	rec := &mockReconciler{reconcileFn: func(ctx context.Context, ev checkout.CompletionEvent) (checkout.ReconcileResult, error) {
		return checkout.ReconcileResult{State: types.ReconcileCreated, Kind: types.DeferredMail, SubscriptionID: "sub_1"}, nil
	}}
	router := newWebhookRouter(testWebhookSecret, rec)

	payload := eventPayload(t, "evt_1", "checkout.session.completed", completedSession("mail"))
	resp := deliver(router, payload, signed(payload, testWebhookSecret, time.Now()))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if strings.TrimSpace(resp.Body.String()) != `{"received":true}` {
		t.Errorf("unexpected body %s", resp.Body.String())
	}

	if len(rec.calls) != 1 {
		t.Fatalf("expected one reconcile, got %d", len(rec.calls))
	}
	ev := rec.calls[0]
	if ev.EventID != "evt_1" || ev.SessionID != "cs_test_1" || ev.CustomerID != "cus_1" {
		t.Errorf("unexpected completion event %+v", ev)
	}
	if ev.Metadata[types.MetaDeferred] != "mail" {
		t.Errorf("metadata not carried: %v", ev.Metadata)
	}
}

func TestStripeWebhook_OtherEventsAcknowledged(t *testing.T) {
	rec := &mockReconciler{}
	router := newWebhookRouter(testWebhookSecret, rec)

	for _, typ := range []string{"payment_intent.succeeded", "invoice.paid", "checkout.session.expired"} {
		payload := eventPayload(t, "evt_x", typ, map[string]any{"id": "obj_1"})
		resp := deliver(router, payload, signed(payload, testWebhookSecret, time.Now()))
		if resp.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", typ, resp.Code)
		}
	}
	if len(rec.calls) != 0 {
		t.Errorf("reconciler must only see completed checkouts, got %d calls", len(rec.calls))
	}
}

func TestStripeWebhook_MissingSecretIsConfigurationError(t *testing.T) {
	rec := &mockReconciler{}
	router := newWebhookRouter("", rec)

	payload := eventPayload(t, "evt_1", "checkout.session.completed", completedSession("mail"))
	resp := deliver(router, payload, signed(payload, "whsec_other", time.Now()))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if got := errorCode(t, resp); got != string(types.ErrCodeInternalConfiguration) {
		t.Errorf("unexpected code %s", got)
	}
	if len(rec.calls) != 0 {
		t.Error("nothing may be processed without a secret")
	}
}

func TestStripeWebhook_SignatureFailures(t *testing.T) {
	payload := eventPayload(t, "evt_1", "checkout.session.completed", completedSession("mail"))

	tests := []struct {
		name   string
		header string
		want   types.ErrorCode
	}{
		{"missing header", "", types.ErrCodeSignatureMissing},
		{"wrong secret", signed(payload, "whsec_wrong", time.Now()), types.ErrCodeSignatureInvalid},
		{"replayed outside tolerance", signed(payload, testWebhookSecret, time.Now().Add(-10*time.Minute)), types.ErrCodeSignatureInvalid},
		{"garbage header", "t=abc,v1=zzz", types.ErrCodeSignatureInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockReconciler{}
			resp := deliver(newWebhookRouter(testWebhookSecret, rec), payload, tt.header)

			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.Code)
			}
			if got := errorCode(t, resp); got != string(tt.want) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if len(rec.calls) != 0 {
				t.Error("unverified events must not be processed")
			}
		})
	}
}

func TestStripeWebhook_TamperedBodyRejected(t *testing.T) {
	rec := &mockReconciler{}
	payload := eventPayload(t, "evt_1", "checkout.session.completed", completedSession(""))
	header := signed(payload, testWebhookSecret, time.Now())

	tampered := eventPayload(t, "evt_1", "checkout.session.completed", completedSession("ra"))
	resp := deliver(newWebhookRouter(testWebhookSecret, rec), tampered, header)

	if resp.Code != http.StatusBadRequest || len(rec.calls) != 0 {
		t.Errorf("expected rejection, got %d with %d calls", resp.Code, len(rec.calls))
	}
}

func TestStripeWebhook_ReconcileFailureAsksForRedelivery(t *testing.T) {
	rec := &mockReconciler{reconcileFn: func(context.Context, checkout.CompletionEvent) (checkout.ReconcileResult, error) {
		return checkout.ReconcileResult{State: types.ReconcileCreateFailed, Kind: types.DeferredMail},
			types.NewAppError(types.ErrCodeUpstreamTimeout, "timeout", context.DeadlineExceeded)
	}}
	router := newWebhookRouter(testWebhookSecret, rec)

	payload := eventPayload(t, "evt_1", "checkout.session.completed", completedSession("mail"))
	resp := deliver(router, payload, signed(payload, testWebhookSecret, time.Now()))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "deadline") {
		t.Error("underlying cause must not leak")
	}
	if !strings.Contains(resp.Body.String(), `"retryable":true`) {
		t.Errorf("expected retryable detail, got %s", resp.Body.String())
	}
}

func TestStripeWebhook_OversizeBodyRejected(t *testing.T) {
	rec := &mockReconciler{}
	payload := []byte(`{"id":"evt_big","data":"` + strings.Repeat("a", maxWebhookBodySize) + `"}`)
	resp := deliver(newWebhookRouter(testWebhookSecret, rec), payload, signed(payload, testWebhookSecret, time.Now()))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if got := errorCode(t, resp); got != string(types.ErrCodeValidationInvalidJSON) {
		t.Errorf("unexpected code %s", got)
	}
}

func TestStripeWebhook_MalformedSessionObject(t *testing.T) {
	rec := &mockReconciler{}
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":42}}}`)
	resp := deliver(newWebhookRouter(testWebhookSecret, rec), payload, signed(payload, testWebhookSecret, time.Now()))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if len(rec.calls) != 0 {
		t.Error("malformed session must not be reconciled")
	}
}

func TestCompletionEventFrom_NoData(t *testing.T) {
	if _, err := completionEventFrom(&stripe.Event{ID: "evt_1"}); err == nil {
		t.Error("expected error for event without data")
	}
}
