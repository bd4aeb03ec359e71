package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CounterStore is the rate limit counter surface used by maintenance.
type CounterStore interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// CounterCleanup deletes rate limit counters whose window has ended.
type CounterCleanup struct {
	store  CounterStore
	logger *slog.Logger
}

// NewCounterCleanup creates the service.
func NewCounterCleanup(store CounterStore, logger *slog.Logger) *CounterCleanup {
	if logger == nil {
		logger = slog.Default()
	}
	return &CounterCleanup{store: store, logger: logger}
}

// PurgeExpired deletes counters whose window ended more than grace before now.
func (c *CounterCleanup) PurgeExpired(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	cutoff := now.Add(-grace)
	n, err := c.store.PurgeExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging rate limit counters: %w", err)
	}
	c.logger.InfoContext(ctx, "rate limit counters purged",
		"count", n,
		"cutoff", cutoff.Format(time.RFC3339),
	)
	return int(n), nil
}
