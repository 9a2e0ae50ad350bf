// Package core provides the HTTP chassis for the CrossWatch agent.
// It creates a chi router for the edge process and enforces cross-cutting
// concerns (security headers, logging, metrics, rate limiting, error
// handling) before requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"crosswatch/internal/config"
)

// MetricsCollector defines the interface for recording API telemetry.
// Implementations record request latency and count metrics to CloudWatch
// or equivalent backends.
type MetricsCollector interface {
	// RecordRequest records API request metrics including latency and count.
	// The endpoint is the chi route pattern (e.g. "/v1/traffic/current"), not
	// the raw URL path, to keep metric cardinality bounded.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server encapsulates the dependencies of the agent's HTTP surface, allowing
// for easy injection during testing and distinct configuration for different
// environments.
//
// Optional collaborators (Metrics, RateLimitStore, HealthProbes) may be left
// nil; the corresponding middleware and probes degrade to pass-through.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// RateLimitStore backs the per-client rate limiting middleware.
	// Nil disables rate limiting entirely.
	RateLimitStore RateLimitStore

	// HealthProbes are the component checks executed by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars are invoked by MountRoutes to register domain
	// handler routes under /v1. Populated by the application entry point;
	// the indirection avoids import cycles between core and handler packages.
	V1RouteRegistrars []func(chi.Router)

	// Internal router
	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a fail-fast check on critical
// configuration.
//
// The caller is responsible for mounting routes (via MountRoutes or
// equivalent) after construction and after populating V1RouteRegistrars.
// This separation allows tests to customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}

	if !cfg.Security.OperatorAuthEnabled() {
		logger.Warn("operator key authentication is disabled; configuration mutations are unprotected",
			slog.String("environment", cfg.Environment),
		)
	}

	return s, nil
}

// Handler returns the http.Handler interface for the router.
// Used by http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
// This is used internally by route-mounting methods and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server-held resources.
// Collaborators that own connections (the rate limit store wraps a Redis
// client) are closed if they support it; everything else is owned and
// closed by the entry point.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if closer, ok := s.RateLimitStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.Logger.Error("error closing rate limit store", "error", err)
			return fmt.Errorf("closing rate limit store: %w", err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
