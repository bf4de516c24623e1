// Package api serves invocations and their history over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/warmbridge/internal/auth"
	"github.com/mattjoyce/warmbridge/internal/events"
	"github.com/mattjoyce/warmbridge/internal/journal"
	"github.com/mattjoyce/warmbridge/internal/metrics"
	"github.com/mattjoyce/warmbridge/internal/supervisor"
)

// Invoker runs invocations. *supervisor.Supervisor satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, inv supervisor.Invocation) supervisor.Outcome
	Status() supervisor.Status
}

// JournalReader is the read side of the invocation journal.
type JournalReader interface {
	Get(ctx context.Context, id string) (*journal.Entry, error)
	Recent(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
	Notifications(ctx context.Context, invocationID string) ([]journal.NotificationRecord, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// FunctionName fills context.function_name when a request omits it.
	FunctionName string
	// DefaultRemaining is the budget used when a request carries none.
	DefaultRemaining time.Duration
	MaxBodyBytes     int64
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	invoker   Invoker
	journal   JournalReader
	events    *events.Hub
	metrics   *metrics.Recorder
	keys      *auth.Keyring
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	// slot admits one invocation at a time; waiters give up with their request context.
	slot chan struct{}
}

// New creates a new API server instance. journal, hub and rec may be nil;
// their endpoints then answer 404.
func New(config Config, invoker Invoker, journal JournalReader, hub *events.Hub, rec *metrics.Recorder, logger *slog.Logger) *Server {
	if config.DefaultRemaining <= 0 {
		config.DefaultRemaining = 15 * time.Minute
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 6 << 20
	}
	return &Server{
		config:    config,
		invoker:   invoker,
		journal:   journal,
		events:    hub,
		metrics:   rec,
		keys:      auth.NewKeyring(config.APIKey, config.Tokens),
		logger:    logger,
		startedAt: time.Now(),
		slot:      make(chan struct{}, 1),
	}
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// Invocations may run for the full function budget.
		WriteTimeout: s.config.DefaultRemaining + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeInvoke)).Post("/invoke", s.handleInvoke)
		r.With(s.requireScopes(auth.ScopeInvocationsRO)).Get("/invocations", s.handleListInvocations)
		r.With(s.requireScopes(auth.ScopeInvocationsRO)).Get("/invocations/{id}", s.handleGetInvocation)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
		r.With(s.requireScopes(auth.ScopeMetricsRO)).Get("/metrics", s.handleMetrics)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
