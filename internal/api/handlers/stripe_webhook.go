package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	stripe "github.com/stripe/stripe-go/v82"

	"llcstack/internal/checkout"
	"llcstack/internal/core"
	"llcstack/internal/external"
	"llcstack/internal/types"
)

// maxWebhookBodySize caps Stripe webhook payloads (64 KiB).
const maxWebhookBodySize = 64 * 1024

// CompletionReconciler settles the deferred subscription of a completed
// checkout.
type CompletionReconciler interface {
	Reconcile(ctx context.Context, ev checkout.CompletionEvent) (checkout.ReconcileResult, error)
}

// StripeWebhookHandler receives processor events. It is not rate limited
// and has no session; authenticity comes from the Stripe-Signature header.
type StripeWebhookHandler struct {
	verifier   external.WebhookVerifier
	reconciler CompletionReconciler
	secret     string
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler. An empty secret is
// accepted so the rest of the API can run; every delivery is then refused
// with a configuration error.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	reconciler CompletionReconciler,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		secret:     secret,
		logger:     logger,
	}
}

// RegisterRoutes mounts the endpoint on the /webhooks router.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/stripe", h.Handle)
}

type webhookAck struct {
	Received bool `json:"received"`
}

// Handle processes one Stripe delivery.
//
//  1. Refuse when no signing secret is configured.
//  2. Read the raw body (64 KiB max) and verify Stripe-Signature.
//  3. Acknowledge every event type except checkout.session.completed.
//  4. Reconcile the completed checkout; a create failure answers 500 so
//     Stripe redelivers.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.secret == "" {
		h.logger.ErrorContext(ctx, "stripe webhook received but no signing secret is configured")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeInternalConfiguration,
			"webhook signing secret is not configured",
			nil,
		))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		msg := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			msg = "webhook payload is too large"
		}
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, msg, err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(ctx, "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeSignatureMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.ErrorContext(ctx, "failed to parse webhook event JSON", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	log := h.logger.With("event_id", event.ID, "event_type", string(event.Type))

	if string(event.Type) != external.EventStripeCheckoutCompleted {
		log.DebugContext(ctx, "ignoring stripe event")
		core.JSON(w, r, http.StatusOK, webhookAck{Received: true})
		return
	}

	ev, err := completionEventFrom(&event)
	if err != nil {
		log.ErrorContext(ctx, "failed to parse checkout session from event", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid checkout session in event",
			err,
		))
		return
	}

	res, err := h.reconciler.Reconcile(ctx, ev)
	if err != nil {
		log.ErrorContext(ctx, "deferred subscription reconcile failed",
			"session_id", ev.SessionID,
			"deferred_kind", res.Kind,
			"error", err,
		)
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeInternalUnexpected,
			"deferred subscription could not be created",
			err,
			map[string]any{"retryable": types.IsRetryable(err)},
		))
		return
	}

	log.InfoContext(ctx, "checkout completion processed",
		"session_id", ev.SessionID,
		"state", res.State,
		"deferred_kind", res.Kind,
		"reason", res.Reason,
		"subscription_id", res.SubscriptionID,
	)
	core.JSON(w, r, http.StatusOK, webhookAck{Received: true})
}

// completionEventFrom decodes the checkout session carried by a
// checkout.session.completed event.
func completionEventFrom(event *stripe.Event) (checkout.CompletionEvent, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return checkout.CompletionEvent{}, errors.New("event has no data object")
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return checkout.CompletionEvent{}, err
	}

	ev := checkout.CompletionEvent{
		EventID:   event.ID,
		SessionID: sess.ID,
		Metadata:  sess.Metadata,
	}
	if sess.Customer != nil {
		ev.CustomerID = sess.Customer.ID
	}
	return ev, nil
}
