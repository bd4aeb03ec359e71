package core

import (
	"context"
	"time"

	"llcstack/internal/types"
)

// RateLimitStore counts requests per key. db.RateLimitRepo shares counts
// through PostgreSQL; LocalRateLimitStore counts in process memory.
type RateLimitStore interface {
	// IncrementAndCheck counts one request for key and reports whether it
	// is within limit for the current window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult is the outcome of one rate limit check.
type RateLimitResult = types.RateLimitResult

// HealthCheck checks one dependency for GET /health.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}
