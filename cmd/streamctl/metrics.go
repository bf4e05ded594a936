// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/streamer/lib/streamer"
	"github.com/bureau-foundation/streamer/lib/streamer/telemetry"
)

// metricsServer exposes a scheduler's live statistics at /metrics for
// as long as a command runs.
type metricsServer struct {
	server   *http.Server
	listener net.Listener
	served   chan error
}

func startMetricsServer(address string, scheduler *streamer.Scheduler, logger *slog.Logger) (*metricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(telemetry.NewCollector(scheduler, "streamer", 0, logger)); err != nil {
		return nil, fmt.Errorf("registering stack metrics: %w", err)
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening for metrics on %s: %w", address, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelWarn)}))
	m := &metricsServer{
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: listener,
		served:   make(chan error, 1),
	}
	go func() {
		m.served <- m.server.Serve(listener)
	}()
	logger.Info("serving metrics", "address", m.Addr())
	return m, nil
}

// Addr returns the address the server listens on, with the port filled
// in when ":0" was requested.
func (m *metricsServer) Addr() string { return m.listener.Addr().String() }

// Close stops accepting scrapes and waits for scrapes in progress.
func (m *metricsServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := m.server.Shutdown(ctx)
	if err := <-m.served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving metrics: %w", err)
	}
	return shutdownErr
}
