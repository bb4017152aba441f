// Package server exposes the Prometheus endpoint while a pipeline run is in progress.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/userdir-pipeline/internal/metrics"
	"github.com/JakeFAU/userdir-pipeline/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

// Server serves /metrics and /healthz.
type Server struct {
	router chi.Router
	srv    *http.Server
	logger *zap.Logger
	done   chan error
}

// New builds a Server that listens on addr once Start is called.
func New(addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{logger: logger, done: make(chan error, 1)}

	r := chi.NewRouter()
	r.Use(middleware.Metrics)
	r.Get("/healthz", healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	s.router = r

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", s.srv.Addr, err)
	}
	go func() {
		s.logger.Info("metrics server started", zap.String("addr", ln.Addr().String()))
		err := s.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
			s.done <- err
			return
		}
		s.done <- nil
	}()
	return ln.Addr(), nil
}

// Shutdown stops the server, waiting for in-flight scrapes up to a fixed timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	select {
	case err := <-s.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
