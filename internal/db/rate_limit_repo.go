package db

import (
	"context"
	"log/slog"
	"time"

	"llcstack/internal/types"
)

// RateLimitRepo counts requests per key in fixed windows stored in the
// rate_limits table, so every API instance shares one count. It implements
// core.RateLimitStore.
type RateLimitRepo struct {
	db     DBTX
	logger *slog.Logger
	now    func() time.Time
}

// NewRateLimitRepo creates a repo backed by the given connection.
func NewRateLimitRepo(db DBTX, logger *slog.Logger) *RateLimitRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimitRepo{db: db, logger: logger, now: time.Now}
}

// IncrementAndCheck atomically counts one request for key. An expired window
// restarts at one in the same statement.
func (r *RateLimitRepo) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error) {
	now := r.now().UTC()

	var (
		count   int
		resetAt time.Time
	)
	err := r.db.QueryRow(ctx, `
		INSERT INTO rate_limits (limit_key, request_count, reset_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (limit_key) DO UPDATE SET
			request_count = CASE WHEN rate_limits.reset_at <= $3 THEN 1 ELSE rate_limits.request_count + 1 END,
			reset_at      = CASE WHEN rate_limits.reset_at <= $3 THEN EXCLUDED.reset_at ELSE rate_limits.reset_at END
		RETURNING request_count, reset_at`,
		key, now.Add(window), now,
	).Scan(&count, &resetAt)
	if err != nil {
		return types.RateLimitResult{}, types.NewAppError(types.ErrCodeInternalDB, "failed to increment rate limit", err)
	}

	return types.RateLimitResult{
		Allowed:   count <= limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}, nil
}

// PurgeExpired deletes counters whose window ended before cutoff and returns
// how many were removed.
func (r *RateLimitRepo) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM rate_limits WHERE reset_at < $1`, cutoff)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge rate limit counters", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		r.logger.InfoContext(ctx, "purged expired rate limit counters", slog.Int64("count", n))
	}
	return tag.RowsAffected(), nil
}
