// Copyright 2026 The Icon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes the agent's Prometheus counters/gauges on a
// loopback-only HTTP endpoint (ambient observability, spec §4.12).
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "icon"

var (
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "proxy",
		Name:      "connections_accepted_total",
		Help:      "Total CONNECT tunnels accepted by the MITM interceptor.",
	})

	ConnectionsIntercepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "proxy",
		Name:      "connections_intercepted_total",
		Help:      "Total connections that were MITM-intercepted rather than direct-tunneled.",
	})

	EventsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "events_enqueued_total",
		Help:      "Total DLP events enqueued, by target (prompt/response/clipboard).",
	}, []string{"target"})

	EventsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "events_synced_total",
		Help:      "Total queued events successfully uploaded to the API.",
	})

	RuleOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "evaluation_outcomes_total",
		Help:      "Total rule evaluations, by outcome (blocked/alerted/logged/no_match).",
	}, []string{"outcome"})

	RuleSyncVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "sync_version",
		Help:      "Highest rule version currently loaded.",
	})

	CertsForged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "certmgr",
		Name:      "leaf_certs_forged_total",
		Help:      "Total leaf certificates forged (cache misses).",
	})
)

// Server hosts the /metrics endpoint on a loopback-only listener; it is
// never reachable from outside the host.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer constructs a metrics Server bound to addr, which must be a
// loopback address (127.0.0.1:* or ::1:*) per spec §4.12; Serve refuses
// to listen on any other address.
func NewServer(addr string, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Serve listens and blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	host, _, err := net.SplitHostPort(s.httpServer.Addr)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return fmt.Errorf("metrics: listen address %q is not a loopback address", s.httpServer.Addr)
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("shutting down metrics server")
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
