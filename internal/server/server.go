// Package server hosts the Executor's internal HTTP endpoint (spec.md §4.4,
// §6): a single ServeMux wrapped with the teacher's logging middleware plus a
// correlation-id interceptor (spec.md §9). The service-token check is done
// by executor.Handler itself, not by a middleware.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/chainstrategy/internal/executor"
	"github.com/alanyoungcy/chainstrategy/internal/server/middleware"
)

// Config holds the HTTP server configuration for the Executor's internal
// endpoint.
type Config struct {
	Port int
}

// pinger is satisfied by both the Redis client and the Postgres client;
// /healthz uses it to confirm the Executor can reach its shared resources
// (spec.md §5) rather than just reporting "the process is running."
type pinger interface {
	Ping(ctx context.Context) error
}

// Server is the headless internal HTTP API the Evaluator dispatches to.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with the Executor's routes registered on a fresh
// ServeMux, wrapped in the correlation-id and logging middleware. db and
// cache are optional pingers checked by /healthz; either may be nil.
func New(cfg Config, handler *executor.Handler, db, cache pinger, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", healthCheck(db, cache))
	handler.Register(mux)

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.Correlation()(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// healthCheck pings the relational store and the Redis-backed queue/lock
// (whichever are configured for the running mode) and reports 503 if either
// is unreachable.
func healthCheck(db, cache pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				writeHealth(w, http.StatusServiceUnavailable, "db unreachable: "+err.Error())
				return
			}
		}
		if cache != nil {
			if err := cache.Ping(ctx); err != nil {
				writeHealth(w, http.StatusServiceUnavailable, "cache unreachable: "+err.Error())
				return
			}
		}
		writeHealth(w, http.StatusOK, "ok")
	}
}

func writeHealth(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, msg)
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
