package checkout

import (
	"context"
	"log/slog"
	"strings"

	"llcstack/internal/types"
)

// SessionReader retrieves checkout sessions from the processor.
type SessionReader interface {
	GetCheckoutSession(ctx context.Context, sessionID string) (*types.CheckoutSession, error)
}

// VerifiedContext is what a paid checkout hands back to the onboarding flow.
type VerifiedContext struct {
	Paid             bool                 `json:"paid"`
	SessionID        string               `json:"session_id"`
	Mode             types.CheckoutMode   `json:"mode"`
	CustomerEmail    string               `json:"customer_email"`
	StripeCustomerID string               `json:"stripe_customer_id"`
	CustomerRef      string               `json:"customer_ref"`
	EntityRef        string               `json:"entity_ref"`
	State            string               `json:"state"`
	LegalName        string               `json:"legal_name,omitempty"`
	AddOns           types.AddOnSelection `json:"add_ons"`
}

// Verifier confirms that a checkout session was paid.
type Verifier struct {
	sessions SessionReader
	logger   *slog.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(sessions SessionReader, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{sessions: sessions, logger: logger}
}

// IsPaid reports whether a session counts as paid. Subscription checkouts
// count once complete even if the first invoice has not settled, since their
// subscriptions may start with an incomplete payment.
func IsPaid(sess *types.CheckoutSession) bool {
	if sess.Status != types.SessionStatusComplete {
		return false
	}
	return sess.PaymentStatus == types.PaymentStatusPaid || sess.Mode == types.ModeSubscription
}

// Verify fetches the session and returns its context when paid. An unpaid or
// still-open session yields payment_incomplete. Malformed metadata never
// fails the call: add-ons fall back to an empty selection.
func (v *Verifier) Verify(ctx context.Context, sessionID string) (*VerifiedContext, error) {
	if !strings.HasPrefix(sessionID, "cs_") {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidSessionID,
			"session_id must be a checkout session identifier",
			nil,
		)
	}

	sess, err := v.sessions.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !IsPaid(sess) {
		v.logger.InfoContext(ctx, "checkout not paid yet",
			"session_id", sessionID,
			"status", sess.Status,
			"payment_status", sess.PaymentStatus,
			"mode", sess.Mode,
		)
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodePaymentIncomplete,
			"payment not completed yet",
			nil,
			map[string]any{
				"status":         sess.Status,
				"payment_status": sess.PaymentStatus,
			},
		)
	}

	meta, metaErr := types.ParseSessionMetadata(sess.Metadata)
	if metaErr != nil {
		v.logger.WarnContext(ctx, "checkout metadata has an unknown deferral marker",
			"session_id", sessionID,
			"error", metaErr,
		)
	}
	if _, ok := types.ParseAddOns(sess.Metadata[types.MetaAddOns]); !ok {
		v.logger.WarnContext(ctx, "checkout add-on metadata missing or malformed",
			"session_id", sessionID,
		)
	}

	return &VerifiedContext{
		Paid:             true,
		SessionID:        sess.ID,
		Mode:             sess.Mode,
		CustomerEmail:    sess.CustomerEmail,
		StripeCustomerID: sess.CustomerID,
		CustomerRef:      meta.CustomerRef,
		EntityRef:        meta.EntityRef,
		State:            meta.State,
		LegalName:        meta.LegalName,
		AddOns:           meta.AddOns,
	}, nil
}
