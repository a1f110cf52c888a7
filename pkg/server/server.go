// Package server exposes the memory store over HTTP.
//
// Routes:
//
//	POST   /memories               add a memory
//	GET    /memories               list memories (?scope=&stage=&limit=&offset=)
//	POST   /memories/search        ranked search
//	GET    /memories/{id}          fetch one memory
//	PATCH  /memories/{id}          update content and/or metadata
//	DELETE /memories/{id}          delete (idempotent)
//	POST   /memories/{id}/restore  move an aging or archived memory back to active
//	POST   /admin/sweep            run one lifecycle sweep
//	GET    /admin/consistency      compare records with the vector index (?repair=true)
//	GET    /health                 liveness
//
// Errors are returned as {"error":{"kind":"...","message":"..."}}.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oceanbase/memstore/pkg/core"
	"github.com/oceanbase/memstore/pkg/lifecycle"
)

// Sweeper runs a lifecycle sweep on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (*lifecycle.Report, error)
}

// Server serves the HTTP API.
type Server struct {
	client  *core.Client
	sweeper Sweeper
	logger  *slog.Logger
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithSweeper enables POST /admin/sweep.
func WithSweeper(s Sweeper) Option {
	return func(srv *Server) { srv.sweeper = s }
}

// WithLogger sets the request logger (default: the client's logger).
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) { srv.logger = l }
}

// New builds the router over client.
func New(client *core.Client, opts ...Option) *Server {
	s := &Server{
		client: client,
		logger: client.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)

	r.Get("/health", s.health)

	r.Route("/memories", func(r chi.Router) {
		r.Post("/", s.addMemory)
		r.Get("/", s.listMemories)
		r.Post("/search", s.searchMemories)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getMemory)
			r.Patch("/", s.updateMemory)
			r.Delete("/", s.deleteMemory)
			r.Post("/restore", s.restoreMemory)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/sweep", s.sweep)
		r.Get("/consistency", s.consistency)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs one line per request through slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		}()
		next.ServeHTTP(ww, r)
	})
}
