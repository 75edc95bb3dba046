// Package admin serves liveness, readiness and metrics over HTTP.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/glimte/domainbus/health"
)

// readyzRequestsPerMinute bounds readiness probes per client IP
const readyzRequestsPerMinute = 120

// NewRouter mounts /healthz, /readyz and /metrics. Only /readyz is traced.
func NewRouter(registry *health.Registry) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.With(
		otelhttp.NewMiddleware("readyz"),
		httprate.LimitByIP(readyzRequestsPerMinute, time.Minute),
	).Get("/readyz", health.Handler(registry, 5*time.Second))
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Server runs the admin router until its context is done
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates the admin server listening on addr
func NewServer(addr string, registry *health.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(registry),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("admin server stopped")
	return nil
}
