package core

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"llcstack/internal/types"
)

// rateLimitWindow is the fixed window the per-IP limit applies to.
const rateLimitWindow = time.Minute

// RateLimit caps requests per client IP using RateLimitStore. Every
// checkout call may create a processor customer, so the public endpoints are
// limited before any handler runs.
//
// It passes through when no store is configured or the limit is zero, and
// fails open when the store errors.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := s.rateLimitPerMinute()
		if s.RateLimitStore == nil || limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := extractClientIP(r)
		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), "ip:"+ip, limit, rateLimitWindow)
		if err != nil {
			s.Logger.ErrorContext(r.Context(), "rate limit store error",
				slog.String("ip", ip),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			s.Logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("ip", ip),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			retryAfter := max(int(time.Until(result.ResetAt).Seconds()), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "rate limit exceeded, retry later", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitPerMinute() int {
	if s.Config == nil {
		return 0
	}
	return s.Config.Security.RateLimitPerMinute
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// LocalRateLimitStore keeps one token bucket per key in process memory. It
// serves HTTP mode and deployments without a database; counts are not shared
// between processes. Buckets start full with limit tokens and refill at
// limit per window.
type LocalRateLimitStore struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	now     func() time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	limit    int
	lastSeen time.Time
}

// NewLocalRateLimitStore creates an empty store.
func NewLocalRateLimitStore() *LocalRateLimitStore {
	return &LocalRateLimitStore{
		buckets: make(map[string]*localBucket),
		now:     time.Now,
	}
}

// IncrementAndCheck implements RateLimitStore. Buckets idle for a full
// window are refilled anyway and are swept when a new key arrives.
func (m *LocalRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	interval := window / time.Duration(limit)

	b, ok := m.buckets[key]
	if !ok || b.limit != limit {
		if !ok {
			m.sweep(now, window)
		}
		b = &localBucket{limiter: rate.NewLimiter(rate.Every(interval), limit), limit: limit}
		m.buckets[key] = b
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)
	missing := float64(limit) - tokens
	return RateLimitResult{
		Allowed:   allowed,
		Remaining: max(int(tokens), 0),
		ResetAt:   now.Add(time.Duration(missing * float64(interval))),
	}, nil
}

func (m *LocalRateLimitStore) sweep(now time.Time, window time.Duration) {
	for k, b := range m.buckets {
		if now.Sub(b.lastSeen) >= window {
			delete(m.buckets, k)
		}
	}
}
