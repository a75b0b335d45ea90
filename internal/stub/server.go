// Package stub serves an in-memory scheduler API for local development and
// integration tests. It speaks the same routes the repository client calls.
package stub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/pipewatch/internal/auth"
	"github.com/mattjoyce/pipewatch/internal/events"
	"github.com/mattjoyce/pipewatch/internal/log"
	"github.com/mattjoyce/pipewatch/internal/model"
)

// RequestRecorder observes served requests. *metrics.Collector satisfies it.
type RequestRecorder interface {
	RecordHTTPRequest(method, route string, statusCode int, elapsed time.Duration)
}

// Config holds stub server configuration.
type Config struct {
	Listen string
	// Tokens enables bearer auth. Empty means every request is allowed.
	Tokens []auth.TokenConfig
	// Prefix is the API mount point. Default "/api".
	Prefix string
}

// Server is the stub HTTP API.
type Server struct {
	config    Config
	scheduler *Scheduler
	messages  *events.Hub
	guard     *auth.Guard
	recorder  RequestRecorder
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithRecorder records request metrics.
func WithRecorder(r RequestRecorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMessageHub streams messages published on hub from /messages.
func WithMessageHub(hub *events.Hub) Option {
	return func(s *Server) { s.messages = hub }
}

// New creates a stub server over scheduler.
func New(config Config, scheduler *Scheduler, opts ...Option) *Server {
	if config.Prefix == "" {
		config.Prefix = "/api"
	}
	s := &Server{
		config:    config,
		scheduler: scheduler,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithComponent("stub")
	}
	if s.messages == nil {
		s.messages = events.NewHub(256)
	}
	s.guard = auth.NewGuard(config.Tokens, s.writeError)
	return s
}

// PublishMessage fans a push message out to /messages subscribers. Pass it to
// WithPublisher so scheduler changes reach clients.
func (s *Server) PublishMessage(msg model.Message) {
	s.messages.Publish(msg.Type, "", msg.Data)
}

// Handler returns the routed API, for httptest.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// No write timeout: /messages is a long-lived stream.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("stub API starting", "listen", s.config.Listen, "prefix", s.config.Prefix)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("stub API shutting down")
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

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route(s.config.Prefix, func(r chi.Router) {
		r.Get("/healthz", s.handleHealthz)

		r.Group(func(r chi.Router) {
			r.Use(s.guard.Middleware)
			r.With(s.guard.Require(auth.ScopePipelinesRO)).Get("/pipelines", s.handleListPipelines)
			r.With(s.guard.Require(auth.ScopePipelinesRO)).Get("/pipelines/{pipelineID}", s.handleGetPipeline)
			r.With(s.guard.Require(auth.ScopeRunsRO)).Get("/pipelines/{pipelineID}/triggers/{triggerID}/runs", s.handleListRuns)
			r.With(s.guard.Require(auth.ScopeRunsRW)).Post("/pipelines/{pipelineID}/triggers/{triggerID}/run", s.handleRunTrigger)
			r.With(s.guard.Require(auth.ScopeLogsRO)).Get("/pipelines/{pipelineID}/runs/{runID}/logs", s.handleListLogs)
			r.With(s.guard.Require(auth.ScopeRunsRO)).Get("/messages", s.handleMessages)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests and records them when a recorder is set.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
		if s.recorder != nil {
			s.recorder.RecordHTTPRequest(r.Method, routePattern(r), status, elapsed)
		}
	})
}

// routePattern keeps metric label cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
