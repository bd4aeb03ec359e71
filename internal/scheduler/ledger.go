package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"llcstack/internal/db"
	"llcstack/internal/types"
)

// ClaimStore is the ledger surface used by maintenance.
type ClaimStore interface {
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]db.DeferredSubscriptionClaim, error)
	MarkAbandoned(ctx context.Context, sessionID string, kind types.DeferredKind) (bool, error)
	PurgeSettledBefore(ctx context.Context, before time.Time, limit int) (int64, error)
}

// FailureSink parks records for operators.
type FailureSink interface {
	PublishReconcileFailure(ctx context.Context, failure types.ReconcileFailure) error
}

// LedgerMaintenance sweeps abandoned claims and purges settled ones.
type LedgerMaintenance struct {
	store  ClaimStore
	sink   FailureSink
	logger *slog.Logger
}

// NewLedgerMaintenance creates the service. sink may be nil, in which case
// abandoned claims are only logged.
func NewLedgerMaintenance(store ClaimStore, sink FailureSink, logger *slog.Logger) *LedgerMaintenance {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerMaintenance{store: store, sink: sink, logger: logger}
}

// SweepAbandoned parks every pending claim last touched before now-olderThan
// and marks it abandoned. A claim whose park fails stays pending and is
// picked up by the next run.
//
// Returns the count of claims marked abandoned.
func (m *LedgerMaintenance) SweepAbandoned(ctx context.Context, now time.Time, olderThan time.Duration, limit int) (int, error) {
	claims, err := m.store.ListPendingBefore(ctx, now.Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("listing pending claims: %w", err)
	}
	if len(claims) == 0 {
		m.logger.InfoContext(ctx, "no abandoned claims")
		return 0, nil
	}

	abandoned := 0
	for _, c := range claims {
		log := m.logger.With(
			"session_id", c.SessionID,
			"deferred_kind", string(c.Kind),
			"event_id", c.EventID,
			"pending_since", c.UpdatedAt.Format(time.RFC3339),
		)

		if m.sink != nil {
			failure := types.ReconcileFailure{
				MessageID:  uuid.NewString(),
				EventID:    c.EventID,
				SessionID:  c.SessionID,
				Kind:       c.Kind,
				ErrorCode:  types.ErrCodeInternalAbandonedClaim,
				Message:    "deferred subscription claim still pending after the redelivery window; check the processor for a subscription with this checkout_session before creating one",
				OccurredAt: now,
			}
			if err := m.sink.PublishReconcileFailure(ctx, failure); err != nil {
				log.ErrorContext(ctx, "failed to park abandoned claim", "error", err)
				continue
			}
		} else {
			log.ErrorContext(ctx, "abandoned deferred subscription claim; no failure queue configured")
		}

		ok, err := m.store.MarkAbandoned(ctx, c.SessionID, c.Kind)
		if err != nil {
			return abandoned, fmt.Errorf("marking claim abandoned: %w", err)
		}
		if !ok {
			log.InfoContext(ctx, "claim left pending before it could be marked")
			continue
		}
		abandoned++
	}

	m.logger.InfoContext(ctx, "abandoned claims swept",
		"abandoned", abandoned,
		"candidates", len(claims),
	)
	return abandoned, nil
}

// PurgeSettled deletes created claims older than retention.
func (m *LedgerMaintenance) PurgeSettled(ctx context.Context, now time.Time, retention time.Duration, limit int) (int, error) {
	n, err := m.store.PurgeSettledBefore(ctx, now.Add(-retention), limit)
	if err != nil {
		return 0, fmt.Errorf("purging settled claims: %w", err)
	}
	m.logger.InfoContext(ctx, "settled claims purged", "count", n)
	return int(n), nil
}
