package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// AddOnKey identifies an optional product a customer can add to a formation order.
type AddOnKey string

const (
	AddOnEIN             AddOnKey = "ein"
	AddOnCertifiedCopy   AddOnKey = "certified_copy"
	AddOnRegisteredAgent AddOnKey = "ra"
	AddOnMailForwarding  AddOnKey = "mail_forwarding"
)

// AddOnSelection is the set of add-on flags on a checkout request.
// The flags are independent of each other.
type AddOnSelection struct {
	EIN            bool `json:"ein"`
	CertifiedCopy  bool `json:"certified_copy"`
	RA             bool `json:"ra"`
	MailForwarding bool `json:"mail_forwarding"`
}

// UnmarshalJSON decodes the known flags. Other keys are ignored even when
// the enclosing decoder rejects unknown fields.
func (a *AddOnSelection) UnmarshalJSON(data []byte) error {
	type flags AddOnSelection
	var f flags
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*a = AddOnSelection(f)
	return nil
}

// Selected reports whether the given add-on is selected.
func (a AddOnSelection) Selected(key AddOnKey) bool {
	switch key {
	case AddOnEIN:
		return a.EIN
	case AddOnCertifiedCopy:
		return a.CertifiedCopy
	case AddOnRegisteredAgent:
		return a.RA
	case AddOnMailForwarding:
		return a.MailForwarding
	default:
		return false
	}
}

// BillingInterval is the recurrence of a subscription price. Values match
// Stripe's recurring.interval.
type BillingInterval string

const (
	IntervalYearly  BillingInterval = "year"
	IntervalMonthly BillingInterval = "month"
)

// CheckoutMode is the Stripe Checkout mode of a session.
type CheckoutMode string

const (
	ModePayment      CheckoutMode = "payment"
	ModeSubscription CheckoutMode = "subscription"
)

// LineItemKind tags a LineItem as one-time or recurring.
type LineItemKind string

const (
	LineItemOneTime   LineItemKind = "one_time"
	LineItemRecurring LineItemKind = "recurring"
)

// LineItem is one entry of a checkout. One-time items carry a label and an
// amount in cents; recurring items carry a Stripe price reference and the
// interval of that price.
type LineItem struct {
	Kind        LineItemKind    `json:"kind"`
	Label       string          `json:"label,omitempty"`
	AmountCents int64           `json:"amount_cents,omitempty"`
	AddOn       AddOnKey        `json:"add_on,omitempty"`
	PriceID     string          `json:"price_id,omitempty"`
	Interval    BillingInterval `json:"interval,omitempty"`
}

// OneTimeItem builds a one-time line item.
func OneTimeItem(label string, amountCents int64) LineItem {
	return LineItem{Kind: LineItemOneTime, Label: label, AmountCents: amountCents}
}

// RecurringItem builds a recurring line item for an add-on.
func RecurringItem(addOn AddOnKey, priceID string, interval BillingInterval) LineItem {
	return LineItem{Kind: LineItemRecurring, AddOn: addOn, PriceID: priceID, Interval: interval}
}

// IsRecurring reports whether the item is a subscription item.
func (li LineItem) IsRecurring() bool {
	return li.Kind == LineItemRecurring
}

// DeferredKind names the recurring add-on that was left out of a checkout and
// must be subscribed after completion. The zero value means nothing is deferred.
type DeferredKind string

const (
	DeferredNone            DeferredKind = ""
	DeferredMail            DeferredKind = "mail"
	DeferredRegisteredAgent DeferredKind = "ra"
)

// ParseDeferredKind validates a metadata marker. Unknown markers are rejected
// rather than passed through.
func ParseDeferredKind(s string) (DeferredKind, error) {
	switch DeferredKind(s) {
	case DeferredNone, DeferredMail, DeferredRegisteredAgent:
		return DeferredKind(s), nil
	default:
		return DeferredNone, NewAppErrorWithDetails(
			ErrCodeValidationInvalidDeferredKind,
			fmt.Sprintf("unknown deferred subscription marker %q", s),
			nil,
			map[string]any{"deferred": s},
		)
	}
}

// DeferredKindFor returns the marker used when the given recurring add-on is deferred.
func DeferredKindFor(addOn AddOnKey) DeferredKind {
	switch addOn {
	case AddOnMailForwarding:
		return DeferredMail
	case AddOnRegisteredAgent:
		return DeferredRegisteredAgent
	default:
		return DeferredNone
	}
}

// AddOn returns the recurring add-on this marker refers to.
func (k DeferredKind) AddOn() AddOnKey {
	switch k {
	case DeferredMail:
		return AddOnMailForwarding
	case DeferredRegisteredAgent:
		return AddOnRegisteredAgent
	default:
		return ""
	}
}

// IsNone reports whether nothing is deferred.
func (k DeferredKind) IsNone() bool {
	return k == DeferredNone
}

// CheckoutIntent is the outcome of line-item composition.
//
// Invariant: Items holds at most one recurring item. When two recurring
// add-ons were requested, exactly one of them is named by Deferred.
type CheckoutIntent struct {
	Mode     CheckoutMode `json:"mode"`
	Items    []LineItem   `json:"items"`
	Deferred DeferredKind `json:"deferred"`
}

// RecurringItems returns the recurring items of the intent.
func (ci CheckoutIntent) RecurringItems() []LineItem {
	var out []LineItem
	for _, li := range ci.Items {
		if li.IsRecurring() {
			out = append(out, li)
		}
	}
	return out
}

// OneTimeTotal sums the one-time amounts in cents.
func (ci CheckoutIntent) OneTimeTotal() int64 {
	var total int64
	for _, li := range ci.Items {
		if !li.IsRecurring() {
			total += li.AmountCents
		}
	}
	return total
}

// Session metadata keys written at composition time and read back by the
// verifier and the reconciler.
const (
	MetaCustomerRef = "customer_ref"
	MetaEntityRef   = "entity_ref"
	MetaState       = "state"
	MetaLegalName   = "legal_name"
	MetaAddOns      = "add_ons"
	MetaDeferred    = "deferred"
)

// SessionMetadata is the typed view of the key/value metadata stored on a
// Stripe Checkout Session.
type SessionMetadata struct {
	CustomerRef string
	EntityRef   string
	State       string
	LegalName   string
	AddOns      AddOnSelection
	Deferred    DeferredKind
}

// ToMap serializes the metadata for the Stripe API.
func (m SessionMetadata) ToMap() map[string]string {
	addOns, _ := json.Marshal(m.AddOns)
	return map[string]string{
		MetaCustomerRef: m.CustomerRef,
		MetaEntityRef:   m.EntityRef,
		MetaState:       m.State,
		MetaLegalName:   m.LegalName,
		MetaAddOns:      string(addOns),
		MetaDeferred:    string(m.Deferred),
	}
}

// ParseAddOns decodes the add_ons metadata value. A missing or malformed
// value yields an empty selection and ok=false; it never fails the caller.
func ParseAddOns(raw string) (sel AddOnSelection, ok bool) {
	if raw == "" {
		return AddOnSelection{}, false
	}
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		return AddOnSelection{}, false
	}
	return sel, true
}

// ParseSessionMetadata builds the typed view of raw metadata. Add-ons degrade
// to an empty selection when malformed; an unknown deferred marker is
// returned as an error alongside the rest of the parsed fields.
func ParseSessionMetadata(raw map[string]string) (SessionMetadata, error) {
	addOns, _ := ParseAddOns(raw[MetaAddOns])
	m := SessionMetadata{
		CustomerRef: raw[MetaCustomerRef],
		EntityRef:   raw[MetaEntityRef],
		State:       raw[MetaState],
		LegalName:   raw[MetaLegalName],
		AddOns:      addOns,
	}
	kind, err := ParseDeferredKind(raw[MetaDeferred])
	if err != nil {
		return m, err
	}
	m.Deferred = kind
	return m, nil
}

// RedirectURLs holds the success and cancel URLs for a checkout session.
type RedirectURLs struct {
	Success string
	Cancel  string
}

// CheckoutSessionParams is the processor-neutral input for creating a
// hosted checkout session.
type CheckoutSessionParams struct {
	CustomerID string
	Mode       CheckoutMode
	Items      []LineItem
	URLs       RedirectURLs
	Metadata   map[string]string
	// SaveCardForLater requests off-session reuse of the payment method in
	// payment mode. Subscription mode saves the card on its own.
	SaveCardForLater bool
}

// CheckoutSession is the subset of a Stripe Checkout Session the service reads.
type CheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	Mode          CheckoutMode      `json:"mode"`
	CustomerID    string            `json:"customer"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}

// Checkout session status values reported by Stripe.
const (
	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"
	SessionStatusExpired  = "expired"

	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

// SubscriptionParams is the input for creating a subscription out-of-band.
type SubscriptionParams struct {
	CustomerID string
	PriceID    string
	Metadata   map[string]string
}

// Subscription is the subset of a Stripe Subscription the service reads.
type Subscription struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Customer string            `json:"customer"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ClaimOutcome is the result of claiming a deferred subscription in the
// processed-event ledger.
type ClaimOutcome string

const (
	// ClaimHeld means a created row or a fresh pending row already owns the
	// pair. The delivery is a duplicate.
	ClaimHeld ClaimOutcome = "held"
	// ClaimAcquired means no earlier delivery touched the pair.
	ClaimAcquired ClaimOutcome = "acquired"
	// ClaimReclaimed means a stale pending row was taken over. An earlier
	// attempt may have created the subscription without recording it.
	ClaimReclaimed ClaimOutcome = "reclaimed"
)

// Owned reports whether the caller now holds the claim.
func (o ClaimOutcome) Owned() bool {
	return o == ClaimAcquired || o == ClaimReclaimed
}

// Customer is the subset of a Stripe Customer the service reads.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ReconcileFailure is the record parked on the failure queue when a deferred
// subscription could not be created. Operators replay or resolve it by hand.
type ReconcileFailure struct {
	MessageID  string       `json:"message_id"`
	EventID    string       `json:"event_id"`
	SessionID  string       `json:"session_id"`
	CustomerID string       `json:"customer_id"`
	Kind       DeferredKind `json:"deferred_kind"`
	PriceID    string       `json:"price_id"`
	ErrorCode  ErrorCode    `json:"error_code"`
	Message    string       `json:"message"`
	Retryable  bool         `json:"retryable"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// ReconcileState is the terminal state of one reconciliation of a completed
// checkout.
type ReconcileState string

const (
	ReconcileNoOp          ReconcileState = "no-op"
	ReconcilePendingCreate ReconcileState = "pending-create"
	ReconcileCreated       ReconcileState = "created"
	ReconcileCreateFailed  ReconcileState = "create-failed"
)
