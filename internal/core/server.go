// Package core provides the HTTP chassis for the llcstack payment API. It
// builds a chi router that serves both a standard HTTP listener and AWS
// Lambda (API Gateway HTTP API) invocations, and applies the cross-cutting
// middleware before requests reach the checkout and webhook handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"llcstack/internal/config"
)

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server holds the router and the dependencies shared by all handlers.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Metrics        MetricsCollector
	RateLimitStore RateLimitStore
	HealthChecks   []HealthCheck

	// V1RouteRegistrars mount browser-facing handlers under /v1. They run
	// behind the rate limiter.
	V1RouteRegistrars []func(chi.Router)
	// WebhookRouteRegistrars mount processor callbacks under /webhooks.
	WebhookRouteRegistrars []func(chi.Router)
	// Closers release resources (database pools) on Shutdown.
	Closers []func() error

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty
// router. Call MountRoutes after the registrars are populated.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown runs every registered closer and returns their joined errors.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var errs []error
	for _, closeFn := range s.Closers {
		if err := closeFn(); err != nil {
			s.Logger.ErrorContext(ctx, "error closing server resource", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing server resources: %w", err)
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
