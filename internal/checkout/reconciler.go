package checkout

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"llcstack/internal/types"
)

// SubscriptionStore creates and looks up subscriptions on the processor.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, params types.SubscriptionParams) (*types.Subscription, error)
	FindSubscription(ctx context.Context, customerID string, match map[string]string) (*types.Subscription, error)
}

// Ledger records which deferred subscriptions have been claimed, keyed by
// checkout session and deferral kind.
type Ledger interface {
	// Claim reserves the (session, kind) pair. ClaimHeld means an earlier
	// delivery owns it; ClaimReclaimed means a stale pending claim was taken
	// over and the earlier attempt may already have created a subscription.
	Claim(ctx context.Context, sessionID string, kind types.DeferredKind, eventID string) (types.ClaimOutcome, error)
	// MarkCreated records the created subscription on a claimed pair.
	MarkCreated(ctx context.Context, sessionID string, kind types.DeferredKind, subscriptionID string) error
	// Release drops a claim so a later delivery can retry.
	Release(ctx context.Context, sessionID string, kind types.DeferredKind) error
}

// FailureSink parks reconcile failures for operators.
type FailureSink interface {
	PublishReconcileFailure(ctx context.Context, failure types.ReconcileFailure) error
}

// CompletionEvent is a verified checkout.session.completed delivery.
type CompletionEvent struct {
	EventID    string
	SessionID  string
	CustomerID string
	Metadata   map[string]string
}

// No-op reasons reported in ReconcileResult.
const (
	ReasonNothingDeferred   = "nothing_deferred"
	ReasonPriceUnconfigured = "price_unconfigured"
	ReasonInvalidMarker     = "invalid_marker"
	ReasonMissingCustomer   = "missing_customer"
	ReasonAlreadyClaimed    = "already_claimed"
	ReasonAlreadyCreated    = "already_created"
)

// MarkCreated retry settings. The ledger write runs on a context detached
// from the webhook request.
const (
	markCreatedAttempts = 3
	markCreatedTimeout  = 5 * time.Second
	markCreatedBackoff  = 200 * time.Millisecond
)

// Metadata keys set on the subscriptions the reconciler creates.
const (
	SubMetaCheckoutSession = "checkout_session"
	SubMetaDeferredKind    = "deferred_kind"
)

// ReconcileResult describes what one reconciliation did.
type ReconcileResult struct {
	State          types.ReconcileState
	Kind           types.DeferredKind
	Reason         string
	SubscriptionID string
}

// Reconciler creates the deferred subscription of a completed checkout.
type Reconciler struct {
	catalog  *Catalog
	subs     SubscriptionStore
	ledger   Ledger
	failures FailureSink
	metrics  Recorder
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(time.Duration)
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithLedger enables duplicate-delivery protection.
func WithLedger(l Ledger) ReconcilerOption {
	return func(r *Reconciler) { r.ledger = l }
}

// WithFailureSink publishes create failures.
func WithFailureSink(s FailureSink) ReconcilerOption {
	return func(r *Reconciler) { r.failures = s }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(m Recorder) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// NewReconciler creates a Reconciler. Without WithLedger every delivery of
// the same event creates another subscription.
func NewReconciler(catalog *Catalog, subs SubscriptionStore, logger *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		catalog: catalog,
		subs:    subs,
		metrics: NoopRecorder{},
		logger:  logger,
		now:     time.Now,
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile acts on one completion event.
//
// A nil error means the delivery is settled and must be acknowledged, even
// for no-ops. A non-nil error means create-failed; the sender should redeliver.
func (r *Reconciler) Reconcile(ctx context.Context, ev CompletionEvent) (ReconcileResult, error) {
	log := r.logger.With("event_id", ev.EventID, "session_id", ev.SessionID)

	kind, err := types.ParseDeferredKind(ev.Metadata[types.MetaDeferred])
	if err != nil {
		log.ErrorContext(ctx, "completion event carries an unknown deferral marker",
			"deferred", ev.Metadata[types.MetaDeferred],
			"error", err,
		)
		return r.finish(ctx, ReconcileResult{State: types.ReconcileNoOp, Reason: ReasonInvalidMarker}), nil
	}
	if kind.IsNone() {
		return r.finish(ctx, ReconcileResult{State: types.ReconcileNoOp, Reason: ReasonNothingDeferred}), nil
	}

	price, ok := r.catalog.Recurring(kind.AddOn())
	if !ok {
		log.WarnContext(ctx, "deferred add-on has no configured price; skipping",
			"deferred_kind", kind,
		)
		return r.finish(ctx, ReconcileResult{State: types.ReconcileNoOp, Kind: kind, Reason: ReasonPriceUnconfigured}), nil
	}
	if ev.CustomerID == "" {
		log.ErrorContext(ctx, "completed checkout has no customer; cannot subscribe",
			"deferred_kind", kind,
		)
		return r.finish(ctx, ReconcileResult{State: types.ReconcileNoOp, Kind: kind, Reason: ReasonMissingCustomer}), nil
	}

	subMeta := map[string]string{
		SubMetaCheckoutSession: ev.SessionID,
		SubMetaDeferredKind:    string(kind),
	}

	if r.ledger != nil {
		outcome, err := r.ledger.Claim(ctx, ev.SessionID, kind, ev.EventID)
		if err != nil {
			log.ErrorContext(ctx, "failed to claim deferred subscription", "error", err)
			return r.finish(ctx, ReconcileResult{State: types.ReconcileCreateFailed, Kind: kind}), err
		}
		if !outcome.Owned() {
			log.InfoContext(ctx, "deferred subscription already claimed; duplicate delivery",
				"deferred_kind", kind,
			)
			return r.finish(ctx, ReconcileResult{State: types.ReconcileNoOp, Kind: kind, Reason: ReasonAlreadyClaimed}), nil
		}
		if outcome == types.ClaimReclaimed {
			existing, err := r.subs.FindSubscription(ctx, ev.CustomerID, subMeta)
			if err != nil {
				// The claim stays pending; the next delivery past the stale
				// window repeats the lookup.
				log.ErrorContext(ctx, "failed to look up subscription for reclaimed claim",
					"deferred_kind", kind,
					"error", err,
				)
				return r.finish(ctx, ReconcileResult{State: types.ReconcileCreateFailed, Kind: kind}), err
			}
			if existing != nil {
				log.InfoContext(ctx, "deferred subscription already exists; recording it",
					"deferred_kind", kind,
					"subscription_id", existing.ID,
				)
				r.recordCreated(ctx, log, ev.SessionID, kind, existing.ID)
				return r.finish(ctx, ReconcileResult{
					State:          types.ReconcileNoOp,
					Kind:           kind,
					Reason:         ReasonAlreadyCreated,
					SubscriptionID: existing.ID,
				}), nil
			}
		}
	}

	log.InfoContext(ctx, "creating deferred subscription",
		"state", types.ReconcilePendingCreate,
		"deferred_kind", kind,
		"customer_id", ev.CustomerID,
	)
	sub, err := r.subs.CreateSubscription(ctx, types.SubscriptionParams{
		CustomerID: ev.CustomerID,
		PriceID:    price.PriceID,
		Metadata:   subMeta,
	})
	if err != nil {
		r.handleCreateFailure(ctx, log, ev, kind, price.PriceID, err)
		return r.finish(ctx, ReconcileResult{State: types.ReconcileCreateFailed, Kind: kind}), err
	}

	r.recordCreated(ctx, log, ev.SessionID, kind, sub.ID)

	log.InfoContext(ctx, "deferred subscription created",
		"deferred_kind", kind,
		"subscription_id", sub.ID,
		"subscription_status", sub.Status,
	)
	return r.finish(ctx, ReconcileResult{State: types.ReconcileCreated, Kind: kind, SubscriptionID: sub.ID}), nil
}

// recordCreated flips the claim to created. The subscription already exists,
// so a failure here is logged and the delivery is still acknowledged; the
// pending row is later reclaimed and resolved by FindSubscription.
func (r *Reconciler) recordCreated(ctx context.Context, log *slog.Logger, sessionID string, kind types.DeferredKind, subscriptionID string) {
	if r.ledger == nil {
		return
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markCreatedTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= markCreatedAttempts; attempt++ {
		if err = r.ledger.MarkCreated(mctx, sessionID, kind, subscriptionID); err == nil {
			return
		}
		log.WarnContext(ctx, "failed to record created subscription",
			"subscription_id", subscriptionID,
			"attempt", attempt,
			"error", err,
		)
		if attempt < markCreatedAttempts {
			r.sleep(time.Duration(attempt) * markCreatedBackoff)
		}
	}
	log.ErrorContext(ctx, "created subscription left unrecorded in ledger",
		"subscription_id", subscriptionID,
		"deferred_kind", kind,
		"error", err,
	)
}

func (r *Reconciler) handleCreateFailure(
	ctx context.Context,
	log *slog.Logger,
	ev CompletionEvent,
	kind types.DeferredKind,
	priceID string,
	createErr error,
) {
	log.ErrorContext(ctx, "failed to create deferred subscription",
		"deferred_kind", kind,
		"error", createErr,
	)

	if r.ledger != nil {
		if err := r.ledger.Release(ctx, ev.SessionID, kind); err != nil {
			log.ErrorContext(ctx, "failed to release deferred subscription claim", "error", err)
		}
	}

	if r.failures == nil {
		return
	}
	failure := types.ReconcileFailure{
		MessageID:  uuid.NewString(),
		EventID:    ev.EventID,
		SessionID:  ev.SessionID,
		CustomerID: ev.CustomerID,
		Kind:       kind,
		PriceID:    priceID,
		ErrorCode:  types.ErrCodeInternalUnexpected,
		Message:    createErr.Error(),
		Retryable:  types.IsRetryable(createErr),
		OccurredAt: r.now().UTC(),
	}
	if appErr, ok := types.AsAppError(createErr); ok {
		failure.ErrorCode = appErr.Code
	}
	if err := r.failures.PublishReconcileFailure(ctx, failure); err != nil {
		log.ErrorContext(ctx, "failed to publish reconcile failure", "error", err)
	}
}

func (r *Reconciler) finish(ctx context.Context, res ReconcileResult) ReconcileResult {
	r.metrics.RecordReconcile(ctx, res.Kind, res.State)
	return res
}
