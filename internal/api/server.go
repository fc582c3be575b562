// Package api exposes the HTTP interface for the download service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tunepull/internal/core"
	"tunepull/internal/orchestrator"
)

// Service is the orchestration facade the handlers call into.
type Service interface {
	CreateSession(owner string) (core.SessionSummary, error)
	GetSession(id string) (core.SessionSummary, error)
	ListSessions() []core.SessionSummary
	DeleteSession(id string) error
	CreateJob(sessionID string, spec core.JobSpec) (core.Job, error)
	GetJob(sessionID, jobID string) (orchestrator.JobView, error)
	ListJobs(sessionID string) ([]orchestrator.JobView, error)
	CancelJob(sessionID, jobID string) (core.Job, error)
	Stats() core.Stats
}

// sessionHeader carries job ownership on the job routes.
const sessionHeader = "X-Session-ID"

// Server wires HTTP handlers to the orchestrator.
type Server struct {
	router  chi.Router
	service Service
	logger  *zap.Logger
}

// Option tweaks server construction.
type Option func(*serverOptions)

type serverOptions struct {
	requestTimeout time.Duration
	metricsHandler http.Handler
	middlewares    []func(http.Handler) http.Handler
}

// WithRequestTimeout overrides the default per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *serverOptions) { o.requestTimeout = d }
}

// WithMetricsHandler mounts a handler at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *serverOptions) { o.metricsHandler = h }
}

// WithMiddleware appends extra middleware to the chain.
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(o *serverOptions) { o.middlewares = append(o.middlewares, mw) }
}

// NewServer constructs a Server with middleware and routes.
func NewServer(service Service, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	options := serverOptions{requestTimeout: 60 * time.Second}
	for _, opt := range opts {
		opt(&options)
	}

	s := &Server{service: service, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	for _, mw := range options.middlewares {
		r.Use(mw)
	}
	r.Use(timeoutMiddleware(options.requestTimeout))

	r.Get("/healthz", s.healthz)
	if options.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", options.metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Get("/", s.listSessions)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.deleteSession)
			})
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stats":  s.service.Stats(),
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError,
						"internal", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}
