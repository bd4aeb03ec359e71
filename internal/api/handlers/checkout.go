// Package handlers contains the HTTP handlers of the llcstack payment API.
//
// The checkout endpoints are called by the storefront with no user session;
// they are mounted under /v1 behind the per-IP rate limiter. The processor
// webhook lives in stripe_webhook.go.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"llcstack/internal/checkout"
	"llcstack/internal/core"
)

// CheckoutComposer opens hosted checkout sessions.
type CheckoutComposer interface {
	Compose(ctx context.Context, req checkout.ComposeRequest) (*checkout.ComposeResult, error)
}

// CheckoutVerifier confirms that a checkout session was paid.
type CheckoutVerifier interface {
	Verify(ctx context.Context, sessionID string) (*checkout.VerifiedContext, error)
}

// VerifyRequest is the body of POST /v1/checkout/verify.
type VerifyRequest struct {
	SessionID string `json:"session_id" validate:"required,checkout_session_id"`
}

// CheckoutHandler serves the storefront checkout endpoints.
type CheckoutHandler struct {
	composer  CheckoutComposer
	verifier  CheckoutVerifier
	validator *core.Validator
	logger    *slog.Logger
}

// NewCheckoutHandler creates a CheckoutHandler.
func NewCheckoutHandler(
	composer CheckoutComposer,
	verifier CheckoutVerifier,
	v *core.Validator,
	logger *slog.Logger,
) *CheckoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutHandler{
		composer:  composer,
		verifier:  verifier,
		validator: v,
		logger:    logger,
	}
}

// RegisterRoutes mounts the checkout endpoints on a /v1 router.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/checkout", h.Create)
	r.Post("/checkout/verify", h.Verify)
}

// Create handles POST /v1/checkout. It answers with the hosted checkout URL
// the storefront redirects the buyer to.
func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req checkout.ComposeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.composer.Compose(r.Context(), req)
	if err != nil {
		h.logger.WarnContext(r.Context(), "checkout composition failed",
			"state", req.State,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, res)
}

// Verify handles POST /v1/checkout/verify. An unpaid session is 402 so the
// thank-you page can poll until the processor settles it.
func (h *CheckoutHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	vc, err := h.verifier.Verify(r.Context(), req.SessionID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, vc)
}
