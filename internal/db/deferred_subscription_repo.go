package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"llcstack/internal/types"
)

// DefaultClaimStaleAfter is how long a pending claim blocks redeliveries
// before it is treated as abandoned.
const DefaultClaimStaleAfter = 15 * time.Minute

// Deferred subscription row states.
const (
	claimStatusPending   = "pending"
	claimStatusCreated   = "created"
	claimStatusAbandoned = "abandoned"
)

// DeferredSubscriptionRepo records deferred-subscription claims in the
// deferred_subscriptions table. It implements checkout.Ledger.
//
// A row is inserted as pending before the processor call and flipped to
// created afterwards. A pending row older than the stale window can be
// reclaimed by a later delivery; a created row never can.
type DeferredSubscriptionRepo struct {
	db         DBTX
	logger     *slog.Logger
	staleAfter time.Duration
	now        func() time.Time
}

// NewDeferredSubscriptionRepo creates a repo backed by the given connection.
// A non-positive staleAfter selects DefaultClaimStaleAfter.
func NewDeferredSubscriptionRepo(db DBTX, staleAfter time.Duration, logger *slog.Logger) *DeferredSubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	if staleAfter <= 0 {
		staleAfter = DefaultClaimStaleAfter
	}
	return &DeferredSubscriptionRepo{db: db, logger: logger, staleAfter: staleAfter, now: time.Now}
}

// Claim inserts a pending row for (sessionID, kind). It returns ClaimHeld
// when a created row or a fresh pending row already exists, and
// ClaimReclaimed when it took over a stale pending row.
func (r *DeferredSubscriptionRepo) Claim(ctx context.Context, sessionID string, kind types.DeferredKind, eventID string) (types.ClaimOutcome, error) {
	cutoff := r.now().Add(-r.staleAfter)

	// xmax is zero only for a freshly inserted tuple.
	var inserted bool
	err := r.db.QueryRow(ctx, `
		INSERT INTO deferred_subscriptions (session_id, deferred_kind, event_id, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (session_id, deferred_kind) DO UPDATE
		SET event_id = EXCLUDED.event_id, updated_at = now()
		WHERE deferred_subscriptions.status = 'pending'
		  AND deferred_subscriptions.updated_at < $4
		RETURNING (xmax = 0)`,
		sessionID, string(kind), eventID, cutoff,
	).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.InfoContext(ctx, "deferred subscription already claimed",
			slog.String("session_id", sessionID),
			slog.String("kind", string(kind)),
			slog.String("event_id", eventID),
		)
		return types.ClaimHeld, nil
	}
	if err != nil {
		return types.ClaimHeld, types.NewAppError(types.ErrCodeInternalDB, "failed to claim deferred subscription", err)
	}

	if !inserted {
		r.logger.WarnContext(ctx, "reclaimed stale deferred subscription claim",
			slog.String("session_id", sessionID),
			slog.String("kind", string(kind)),
			slog.String("event_id", eventID),
		)
		return types.ClaimReclaimed, nil
	}
	return types.ClaimAcquired, nil
}

// MarkCreated records the subscription created for a claimed pair.
func (r *DeferredSubscriptionRepo) MarkCreated(ctx context.Context, sessionID string, kind types.DeferredKind, subscriptionID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE deferred_subscriptions
		SET status = $3, subscription_id = $4, updated_at = now()
		WHERE session_id = $1 AND deferred_kind = $2`,
		sessionID, string(kind), claimStatusCreated, subscriptionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark deferred subscription created", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "no claim found to mark created",
			slog.String("session_id", sessionID),
			slog.String("kind", string(kind)),
			slog.String("subscription_id", subscriptionID),
		)
	}
	return nil
}

// Release deletes a pending claim so the next delivery can retry. Created
// rows are left untouched.
func (r *DeferredSubscriptionRepo) Release(ctx context.Context, sessionID string, kind types.DeferredKind) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM deferred_subscriptions
		WHERE session_id = $1 AND deferred_kind = $2 AND status = $3`,
		sessionID, string(kind), claimStatusPending,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release deferred subscription claim", err)
	}
	return nil
}

// DeferredSubscriptionClaim is a row of deferred_subscriptions.
type DeferredSubscriptionClaim struct {
	SessionID      string
	Kind           types.DeferredKind
	EventID        string
	Status         string
	SubscriptionID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// claimColumns is the select list read by scanClaim.
const claimColumns = `session_id, deferred_kind, event_id, status, subscription_id, created_at, updated_at`

func scanClaim(row pgx.Row) (DeferredSubscriptionClaim, error) {
	var (
		c     DeferredSubscriptionClaim
		k     string
		subID *string
	)
	if err := row.Scan(&c.SessionID, &k, &c.EventID, &c.Status, &subID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return DeferredSubscriptionClaim{}, err
	}
	c.Kind = types.DeferredKind(k)
	if subID != nil {
		c.SubscriptionID = *subID
	}
	return c, nil
}

// Get loads the claim for (sessionID, kind). It returns nil, nil when no
// claim exists.
func (r *DeferredSubscriptionRepo) Get(ctx context.Context, sessionID string, kind types.DeferredKind) (*DeferredSubscriptionClaim, error) {
	c, err := scanClaim(r.db.QueryRow(ctx, `
		SELECT `+claimColumns+`
		FROM deferred_subscriptions
		WHERE session_id = $1 AND deferred_kind = $2`,
		sessionID, string(kind),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load deferred subscription claim", err)
	}
	return &c, nil
}

// ListPendingBefore returns up to limit pending claims last touched before
// the cutoff, oldest first.
func (r *DeferredSubscriptionRepo) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]DeferredSubscriptionClaim, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+claimColumns+`
		FROM deferred_subscriptions
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`,
		claimStatusPending, before, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending claims", err)
	}
	defer rows.Close()

	var claims []DeferredSubscriptionClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan pending claim", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate pending claims", err)
	}
	return claims, nil
}

// MarkAbandoned moves a pending claim to abandoned. Abandoned rows are never
// reclaimed, so later deliveries for the pair become no-ops. It reports
// false when the row was no longer pending.
func (r *DeferredSubscriptionRepo) MarkAbandoned(ctx context.Context, sessionID string, kind types.DeferredKind) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE deferred_subscriptions
		SET status = $3, updated_at = now()
		WHERE session_id = $1 AND deferred_kind = $2 AND status = $4`,
		sessionID, string(kind), claimStatusAbandoned, claimStatusPending,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark claim abandoned", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PurgeSettledBefore deletes up to limit created claims last touched before
// the cutoff. The cutoff must lie well outside the processor's redelivery
// window, since a purged pair can be claimed again.
func (r *DeferredSubscriptionRepo) PurgeSettledBefore(ctx context.Context, before time.Time, limit int) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM deferred_subscriptions
		WHERE (session_id, deferred_kind) IN (
			SELECT session_id, deferred_kind
			FROM deferred_subscriptions
			WHERE status = $1 AND updated_at < $2
			ORDER BY updated_at
			LIMIT $3
		)`,
		claimStatusCreated, before, limit,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge settled claims", err)
	}
	return tag.RowsAffected(), nil
}
