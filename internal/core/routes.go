package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"llcstack/internal/types"
)

// defaultRequestTimeout applies when Config.Server.RequestTimeout is unset.
const defaultRequestTimeout = 29 * time.Second

// redactedHeaders are masked in request logs.
var redactedHeaders = []string{
	"Authorization",
	"Cookie",
	"Stripe-Signature",
}

// MountRoutes registers the middleware chain and all routes.
//
// Middleware order:
//  1. Recoverer        - outermost, catches panics from everything below.
//  2. ContextTimeout   - soft deadline before the Lambda hard timeout.
//  3. RequestID        - correlation ID for logs and error bodies.
//  4. SecurityHeaders
//  5. RequestLogger
//  6. CORS             - answers preflights before any limiter runs.
//  7. Metrics
//  8. Compression      - gzip for clients that accept it.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, redactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)
	s.router.Use(CompressionMiddleware(s.Logger))

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundRoute, "route not found", nil))
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, types.NewAppError(types.ErrCodeMethodNotAllowed, "method not allowed", nil))
	})

	s.router.Route("/v1", s.mountV1)
	s.router.Route("/webhooks", s.mountWebhooks)
	s.router.Get("/health", s.HandleHealth)
}

func (s *Server) mountV1(r chi.Router) {
	r.Use(s.RateLimit)
	for _, registrar := range s.V1RouteRegistrars {
		registrar(r)
	}
}

func (s *Server) mountWebhooks(r chi.Router) {
	for _, registrar := range s.WebhookRouteRegistrars {
		registrar(r)
	}
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config == nil {
		return nil
	}
	if len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	if s.Config.Server.SiteURL != "" {
		return []string{s.Config.Server.SiteURL}
	}
	return nil
}

// ContextTimeoutMiddleware sets a deadline on the request context. Handlers
// see a cancelled context once it passes; the response is up to them.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an inbound X-Request-Id, then the API Gateway
// request ID, and otherwise generates a UUID. The ID is stored in the
// context and echoed on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" || len(requestID) > 128 {
			requestID = ""
			if gw, ok := gatewayContext(r); ok {
				requestID = gw.RequestID
			}
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), requestID)))
	})
}
