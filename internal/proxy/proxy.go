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

// Package proxy is the MITM interceptor: it accepts CONNECT tunnels,
// decides per host whether to tunnel directly, block, or intercept with a
// forged TLS session, and — once intercepting — runs an HTTP/1.1
// keep-alive loop that extracts and evaluates prompts/responses on AI
// platform API endpoints (spec C6).
package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ouattaraab/Icon/internal/metrics"
	"github.com/ouattaraab/Icon/internal/queue"
	"github.com/ouattaraab/Icon/internal/rules"
)

// DomainFilter is the subset of domainfilter.Filter the interceptor
// consults to decide DIRECT_TUNNEL vs BLOCK vs INTERCEPT.
type DomainFilter interface {
	ShouldIntercept(host string) bool
	IsBlocked(host string) bool
	Platform(host string) (string, bool)
	PAC(proxyPort int) string
}

// CertManager is the subset of certmgr.Manager the interceptor needs to
// forge the client-facing TLS session and dial upstream.
type CertManager interface {
	GetServerConfig(domain string) *tls.Config
	UpstreamConnector() *tls.Config
}

// Evaluator is the subset of rules.Engine the PAIR loop evaluates
// prompts/responses against.
type Evaluator interface {
	Evaluate(content string, target rules.Target) rules.EvaluationResult
}

// Enqueuer is the subset of queue.Drainer the interceptor appends events
// to.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev queue.Event)
}

// Server is the MITM interceptor's TCP listener.
type Server struct {
	listenAddr   string
	domains      DomainFilter
	certs        CertManager
	evaluator    Evaluator
	queue        Enqueuer
	log          *zap.Logger
	dialTimeout  time.Duration
	upstreamRoot *tls.Config // optional override for tests
}

// New constructs a Server bound to listenAddr.
func New(listenAddr string, domains DomainFilter, certs CertManager, evaluator Evaluator, q Enqueuer, log *zap.Logger) *Server {
	return &Server{
		listenAddr:  listenAddr,
		domains:     domains,
		certs:       certs,
		evaluator:   evaluator,
		queue:       q,
		log:         log,
		dialTimeout: 10 * time.Second,
	}
}

// Serve accepts connections on listenAddr until ctx is cancelled. Each
// connection is handled independently; a malformed or oversize message on
// one connection never brings down the listener (spec §4.6 invariant).
func (s *Server) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("proxy: listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("proxy: accept: %w", err)
			}
		}
		metrics.ConnectionsAccepted.Inc()
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	rl, err := readRequestLine(r)
	if err != nil {
		s.log.Debug("dropping connection with malformed request line", zap.Error(err))
		return
	}

	if rl.Method == http.MethodGet && rl.Target == pacPath {
		s.servePAC(conn, r)
		return
	}

	target, err := readConnect(r, rl)
	if err != nil {
		s.log.Debug("dropping connection with malformed CONNECT", zap.Error(err))
		return
	}

	switch {
	case !s.domains.ShouldIntercept(target.Host):
		s.directTunnel(ctx, conn, r, target)
	case s.domains.IsBlocked(target.Host):
		s.blockDomain(conn, target)
	default:
		s.intercept(ctx, conn, r, target)
	}
}

// servePAC answers a plain GET /proxy.pac with the PAC script text over
// the raw connection, with no CONNECT tunnel and no TLS handshake (spec
// §6): the OS's PAC fetcher talks plain HTTP, never MITM traffic.
func (s *Server) servePAC(conn net.Conn, r *bufio.Reader) {
	if err := drainHeaders(r); err != nil {
		s.log.Debug("dropping malformed PAC request", zap.Error(err))
		return
	}
	conn.Write([]byte(pacResponse(s.domains.PAC(s.proxyPort()))))
}

// proxyPort extracts the numeric port the listener is bound to from
// listenAddr, for embedding in the PROXY 127.0.0.1:<port> PAC directive.
func (s *Server) proxyPort() int {
	_, portStr, err := net.SplitHostPort(s.listenAddr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

// directTunnel splices bytes bidirectionally with no inspection.
func (s *Server) directTunnel(ctx context.Context, conn net.Conn, r *bufio.Reader, target connectTarget) {
	upstream, err := net.DialTimeout("tcp", net.JoinHostPort(target.Host, target.Port), s.dialTimeout)
	if err != nil {
		s.log.Debug("direct tunnel upstream dial failed", zap.String("host", target.Host), zap.Error(err))
		return
	}
	defer upstream.Close()

	if _, err := conn.Write([]byte(connectionEstablished)); err != nil {
		return
	}

	splice(conn, r, upstream)
}

// splice copies bytes in both directions until either side closes.
// Buffered bytes already read into r (e.g. pipelined on the CONNECT
// connection) are drained first so nothing is dropped.
func splice(client net.Conn, bufferedClient *bufio.Reader, upstream net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstream, bufferedClient)
		if c, ok := upstream.(interface{ CloseWrite() error }); ok {
			c.CloseWrite()
		}
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, upstream)
		if c, ok := client.(interface{ CloseWrite() error }); ok {
			c.CloseWrite()
		}
		done <- struct{}{}
	}()
	<-done
	<-done
}

// blockDomain forges a TLS session so the browser completes its
// handshake, then delivers the block page and emits exactly one
// domain_block event.
func (s *Server) blockDomain(conn net.Conn, target connectTarget) {
	if _, err := conn.Write([]byte(connectionEstablished)); err != nil {
		return
	}

	tlsConn := tls.Server(conn, s.certs.GetServerConfig(target.Host))
	defer tlsConn.Close()
	if err := tlsConn.Handshake(); err != nil {
		s.log.Debug("blocked-domain TLS handshake failed", zap.String("host", target.Host), zap.Error(err))
		return
	}

	tlsConn.Write(renderBlockPage("This domain is blocked by your organization's policy.", "domain_block"))

	plat, _ := s.domains.Platform(target.Host)
	now := time.Now().UTC()
	s.queue.Enqueue(context.Background(), queue.Event{
		EventType:  queue.TypeDomainBlock,
		Platform:   plat,
		Domain:     target.Host,
		Severity:   "critical",
		Metadata:   map[string]any{"correlation_id": uuid.NewString()},
		OccurredAt: now,
		CreatedAt:  now,
	})
}

// intercept forges TLS client-side, dials and performs TLS upstream-side,
// then runs the PAIR keep-alive loop.
func (s *Server) intercept(ctx context.Context, conn net.Conn, r *bufio.Reader, target connectTarget) {
	if _, err := conn.Write([]byte(connectionEstablished)); err != nil {
		return
	}

	clientTLS := tls.Server(bufferedConn{Conn: conn, r: r}, s.certs.GetServerConfig(target.Host))
	defer clientTLS.Close()
	if err := clientTLS.Handshake(); err != nil {
		s.log.Info("client TLS handshake failed", zap.String("host", target.Host), zap.Error(err))
		return
	}
	metrics.ConnectionsIntercepted.Inc()

	upstreamConn, err := net.DialTimeout("tcp", net.JoinHostPort(target.Host, target.Port), s.dialTimeout)
	if err != nil {
		s.log.Debug("intercept upstream dial failed", zap.String("host", target.Host), zap.Error(err))
		return
	}
	defer upstreamConn.Close()

	upstreamTLSConfig := s.upstreamRoot
	if upstreamTLSConfig == nil {
		upstreamTLSConfig = s.certs.UpstreamConnector()
	}
	cfg := upstreamTLSConfig.Clone()
	cfg.ServerName = target.Host
	upstreamTLS := tls.Client(upstreamConn, cfg)
	if err := upstreamTLS.Handshake(); err != nil {
		s.log.Debug("upstream TLS handshake failed", zap.String("host", target.Host), zap.Error(err))
		return
	}

	plat, _ := s.domains.Platform(target.Host)
	s.pairLoop(ctx, clientTLS, upstreamTLS, target.Host, plat)
}

// bufferedConn lets tls.Server read through a bufio.Reader that may
// already hold bytes read past the CONNECT request line.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }
