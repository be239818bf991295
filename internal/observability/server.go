// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
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

// ReadinessChecker returns whether the bot is ready to serve commands.
type ReadinessChecker func() bool

// Registrar registers a package's collectors with a registry
// (e.g., cog.RegisterMetrics).
type Registrar func(prometheus.Registerer)

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Metrics contains the transport-level metrics of the bot.
type Metrics struct {
	MessagesTotal *prometheus.CounterVec
	Connections   *prometheus.GaugeVec
}

// NewMetrics creates and registers transport metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cogbot_transport_messages_total",
				Help: "Total number of messages by transport, direction and status",
			},
			[]string{"transport", "direction", "status"},
		),
		Connections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cogbot_transport_connections",
				Help: "Number of open client connections by transport",
			},
			[]string{"transport"},
		),
	}

	reg.MustRegister(m.MessagesTotal)
	reg.MustRegister(m.Connections)
	return m
}

// RecordMessage counts one message. Safe on a nil receiver.
func (m *Metrics) RecordMessage(transport, direction, status string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(transport, direction, status).Inc()
}

// ConnectionGauge returns the connection gauge for transport, or nil on a
// nil receiver.
func (m *Metrics) ConnectionGauge(transport string) prometheus.Gauge {
	if m == nil {
		return nil
	}
	return m.Connections.WithLabelValues(transport)
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	logger     *slog.Logger
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100").
// Each registrar is called once with the server's registry.
func NewServer(addr string, readinessChecker ReadinessChecker, registrars ...Registrar) *Server {
	// A private registry keeps tests and multiple servers independent.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := NewMetrics(registry)
	for _, register := range registrars {
		register(registry)
	}

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
		logger:   slog.Default(),
	}
}

// Metrics returns the transport metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Registerer exposes the server's registry for collectors created later.
func (s *Server) Registerer() prometheus.Registerer {
	return s.registry
}

// Start begins serving observability endpoints.
// The returned channel receives a serve error, if any, and is closed when
// the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	s.logger.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 once the bot has finished loading its startup
// cogs, 503 before.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
