// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

// Package observability serves Prometheus metrics and health probes on a
// listener separate from the API.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessCheck reports whether dependencies are reachable.
type ReadinessCheck func(ctx context.Context) error

// readinessTimeout bounds a single readiness probe.
const readinessTimeout = 2 * time.Second

// Server exposes /metrics, /healthz/liveness and /healthz/readiness.
type Server struct {
	addr     string
	registry *prometheus.Registry
	metrics  *Metrics
	ready    ReadinessCheck
	logger   *slog.Logger

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates a Server with its own registry, so tests and multiple
// instances never collide on the global one.
func NewServer(addr string, ready ReadinessCheck, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Server{
		addr:     addr,
		registry: reg,
		metrics:  NewMetrics(reg),
		ready:    ready,
		logger:   logger,
	}
}

// Metrics returns the application counters.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the probe and metrics mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /healthz/liveness", s.handleLiveness)
	mux.HandleFunc("GET /healthz/readiness", s.handleReadiness)
	return mux
}

// Start listens on the configured address and serves in the background.
// The returned channel yields a serve failure and is closed when the server
// stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("OBSERVABILITY_ALREADY_RUNNING").Errorf("observability server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("OBSERVABILITY_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = ln

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server failed", "error", err)
			errCh <- err
		}
	}()

	s.logger.Info("observability server started", "addr", ln.Addr().String())
	return errCh, nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.Code("OBSERVABILITY_SHUTDOWN_FAILED").Wrap(err)
	}
	s.logger.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, "ok")
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.WarnContext(ctx, "readiness check failed", "error", err)
			writeProbe(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeProbe(w, http.StatusOK, "ok")
}

func writeProbe(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	w.Write([]byte(body + "\n"))
}
