package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"llcstack/internal/types"
)

// DefaultLegalName is used in the formation label when the request omits one.
const DefaultLegalName = "LLC"

// recurringOrder is the fixed evaluation order for recurring add-ons. On an
// interval tie the earlier entry rides in the checkout.
var recurringOrder = []types.AddOnKey{types.AddOnRegisteredAgent, types.AddOnMailForwarding}

// BuildIntent computes the line items, mode and deferral for a checkout.
//
// The state is checked before any add-on, so an unsupported state fails with
// validation_unsupported_region whatever else is selected. A selected add-on
// with no amount or price fails with validation_addon_unavailable.
//
// When both recurring add-ons are selected, the yearly one is included and
// the other is returned as Deferred, because the processor rejects a
// checkout that mixes billing intervals.
func BuildIntent(cat *Catalog, state string, addOns types.AddOnSelection, legalName string) (types.CheckoutIntent, error) {
	fees, err := cat.Fees(state)
	if err != nil {
		return types.CheckoutIntent{}, err
	}
	if legalName == "" {
		legalName = DefaultLegalName
	}

	oneTime := []types.LineItem{
		types.OneTimeItem(fmt.Sprintf("LLC Formation — %s (%s)", legalName, state), fees.BaseFee),
		types.OneTimeItem(fmt.Sprintf("State Filing Fee (%s)", state), fees.FilingFee),
	}
	optional := []struct {
		key   types.AddOnKey
		label string
	}{
		{types.AddOnEIN, "EIN Filing (one-time)"},
		{types.AddOnCertifiedCopy, "Certified Copy (one-time)"},
	}
	for _, o := range optional {
		if !addOns.Selected(o.key) {
			continue
		}
		amount, ok := cat.OneTime(o.key)
		if !ok {
			return types.CheckoutIntent{}, addOnUnavailable(o.key)
		}
		oneTime = append(oneTime, types.OneTimeItem(o.label, amount))
	}

	var recurring []types.LineItem
	for _, key := range recurringOrder {
		if !addOns.Selected(key) {
			continue
		}
		price, ok := cat.Recurring(key)
		if !ok {
			return types.CheckoutIntent{}, addOnUnavailable(key)
		}
		recurring = append(recurring, types.RecurringItem(key, price.PriceID, price.Interval))
	}

	switch len(recurring) {
	case 0:
		return types.CheckoutIntent{Mode: types.ModePayment, Items: oneTime}, nil
	case 1:
		return types.CheckoutIntent{
			Mode:  types.ModeSubscription,
			Items: append([]types.LineItem{recurring[0]}, oneTime...),
		}, nil
	default:
		primary, deferred := recurring[0], recurring[1]
		if deferred.Interval == types.IntervalYearly && primary.Interval != types.IntervalYearly {
			primary, deferred = deferred, primary
		}
		return types.CheckoutIntent{
			Mode:     types.ModeSubscription,
			Items:    append([]types.LineItem{primary}, oneTime...),
			Deferred: types.DeferredKindFor(deferred.AddOn),
		}, nil
	}
}

func addOnUnavailable(key types.AddOnKey) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationAddOnUnavailable,
		fmt.Sprintf("add-on %q is not available", key),
		nil,
		map[string]any{"add_on": string(key)},
	)
}

// SessionCreator creates hosted checkout sessions.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, params types.CheckoutSessionParams) (*types.CheckoutSession, error)
}

// ComposeRequest is the input of a checkout composition.
type ComposeRequest struct {
	CustomerRef string               `json:"customer_id" validate:"required,max=200"`
	Email       string               `json:"email" validate:"required,email"`
	EntityRef   string               `json:"entity_id" validate:"required,max=200"`
	State       string               `json:"state" validate:"required,state_code"`
	AddOns      types.AddOnSelection `json:"add_ons"`
	LegalName   string               `json:"legal_name" validate:"omitempty,max=200"`
}

// ComposeResult is returned to the caller, who redirects the buyer to URL.
type ComposeResult struct {
	URL       string             `json:"url"`
	SessionID string             `json:"session_id"`
	Mode      types.CheckoutMode `json:"mode"`
	Deferred  types.DeferredKind `json:"deferred,omitempty"`
}

// Composer builds and opens checkout sessions.
type Composer struct {
	catalog   *Catalog
	sessions  SessionCreator
	customers *CustomerResolver
	siteURL   string
	metrics   Recorder
	logger    *slog.Logger
}

// NewComposer creates a Composer. siteURL is the base for redirect targets.
func NewComposer(
	catalog *Catalog,
	sessions SessionCreator,
	customers *CustomerResolver,
	siteURL string,
	metrics Recorder,
	logger *slog.Logger,
) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NoopRecorder{}
	}
	return &Composer{
		catalog:   catalog,
		sessions:  sessions,
		customers: customers,
		siteURL:   strings.TrimSuffix(siteURL, "/"),
		metrics:   metrics,
		logger:    logger,
	}
}

// RedirectURLs returns the success and cancel targets. The success URL keeps
// the processor's {CHECKOUT_SESSION_ID} placeholder literal.
func (c *Composer) RedirectURLs() types.RedirectURLs {
	return types.RedirectURLs{
		Success: c.siteURL + "/thank-you?session_id={CHECKOUT_SESSION_ID}",
		Cancel:  c.siteURL + "/checkout-cancelled",
	}
}

// Compose validates the selection, resolves the customer by email and opens a
// checkout session. The intent is computed before any processor call, so
// validation failures have no side effects.
func (c *Composer) Compose(ctx context.Context, req ComposeRequest) (*ComposeResult, error) {
	intent, err := BuildIntent(c.catalog, req.State, req.AddOns, req.LegalName)
	if err != nil {
		return nil, err
	}

	customer, err := c.customers.FindOrCreate(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	legalName := req.LegalName
	if legalName == "" {
		legalName = DefaultLegalName
	}
	meta := types.SessionMetadata{
		CustomerRef: req.CustomerRef,
		EntityRef:   req.EntityRef,
		State:       req.State,
		LegalName:   legalName,
		AddOns:      req.AddOns,
		Deferred:    intent.Deferred,
	}

	sess, err := c.sessions.CreateCheckoutSession(ctx, types.CheckoutSessionParams{
		CustomerID:       customer.ID,
		Mode:             intent.Mode,
		Items:            intent.Items,
		URLs:             c.RedirectURLs(),
		Metadata:         meta.ToMap(),
		SaveCardForLater: intent.Mode == types.ModePayment,
	})
	if err != nil {
		return nil, err
	}

	c.metrics.RecordCheckout(ctx, intent.Mode, intent.Deferred)
	c.logger.InfoContext(ctx, "checkout session created",
		"session_id", sess.ID,
		"customer_id", customer.ID,
		"state", req.State,
		"mode", intent.Mode,
		"deferred", intent.Deferred,
		"one_time_total", intent.OneTimeTotal(),
	)

	return &ComposeResult{
		URL:       sess.URL,
		SessionID: sess.ID,
		Mode:      intent.Mode,
		Deferred:  intent.Deferred,
	}, nil
}
