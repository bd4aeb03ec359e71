package external

import (
	"context"

	"llcstack/internal/types"
)

// ---------------------------------------------------------------------------
// Payment Processor (Stripe)
// ---------------------------------------------------------------------------

// PaymentProcessor abstracts the processor calls the checkout flow makes.
type PaymentProcessor interface {
	// FindCustomerByEmail returns the first customer with the email, or
	// (nil, nil) when there is none.
	FindCustomerByEmail(ctx context.Context, email string) (*types.Customer, error)

	// CreateCustomer creates a customer record. It does not check for an
	// existing record with the same email.
	CreateCustomer(ctx context.Context, email string) (*types.Customer, error)

	// CreateCheckoutSession creates a hosted checkout session.
	CreateCheckoutSession(ctx context.Context, params types.CheckoutSessionParams) (*types.CheckoutSession, error)

	// GetCheckoutSession retrieves a session by ID.
	GetCheckoutSession(ctx context.Context, sessionID string) (*types.CheckoutSession, error)

	// CreateSubscription creates a subscription whose first invoice may
	// complete asynchronously.
	CreateSubscription(ctx context.Context, params types.SubscriptionParams) (*types.Subscription, error)

	// FindSubscription returns the customer's first subscription whose
	// metadata contains every pair in match, or (nil, nil) when none does.
	FindSubscription(ctx context.Context, customerID string, match map[string]string) (*types.Subscription, error)
}

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a payload against the signature header and signing
	// secret. A nil return means the payload is authentic and fresh.
	Verify(payload []byte, header string, secret string) error
}

// Stripe event type constants.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
)

var (
	_ PaymentProcessor = (*StripeClient)(nil)
	_ WebhookVerifier  = (*StripeVerifier)(nil)
)
