// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"

	"github.com/javaarchive/telescope-proxy/pkg/ca"
	"github.com/javaarchive/telescope-proxy/pkg/config"
	"github.com/javaarchive/telescope-proxy/pkg/flow"
	"github.com/javaarchive/telescope-proxy/pkg/resource"
	"github.com/javaarchive/telescope-proxy/pkg/watch"
)

const (
	tlsHandshakeTimeout = 10 * time.Second
	shutdownGrace       = 5 * time.Second
)

// Proxy is the intercepting proxy engine. It owns its flow store and its
// leaf-certificate authority; it is handed a watch.Receiver so the host
// can publish configuration without the engine ever reaching back out to
// ask for it.
type Proxy struct {
	configRx *watch.Receiver[config.Config]
	store    *flow.Store
	logger   zerolog.Logger

	upstream   *http.Client
	wsDialer   *websocket.Dialer
	wsUpgrader websocket.Upgrader

	mu        sync.Mutex
	authority *authority
	listener  net.Listener
	server    *http.Server
	ready     chan struct{}
	readyOnce sync.Once
}

func (p *Proxy) closeReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

// New constructs a Proxy that will read its configuration from configRx
// when Start is called. The returned Proxy has not bound a listener yet.
func New(configRx *watch.Receiver[config.Config]) *Proxy {
	transport := &http.Transport{
		Proxy:                 nil,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   32,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	// Negotiate h2 on the upstream leg when the origin offers it; the
	// client-facing leg stays HTTP/1.1 since the mitm'd TLS connection is
	// served by a plain *http.Server.
	if err := http2.ConfigureTransport(transport); err != nil {
		log.Warn().Err(err).Msg("proxy: http2 upstream support unavailable")
	}

	return &Proxy{
		configRx: configRx,
		store:    flow.NewStore(),
		logger:   log.With().Str("component", "proxy").Logger(),
		upstream: &http.Client{Transport: transport},
		wsDialer: &websocket.Dialer{HandshakeTimeout: tlsHandshakeTimeout},
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ready: make(chan struct{}),
	}
}

// StorageHandle returns the flow store this proxy captures into. The
// store outlives any individual Start/Stop cycle.
func (p *Proxy) StorageHandle() *flow.Store {
	return p.store
}

// Addr blocks until the listener is bound (or Start fails before
// binding one, in which case it returns nil) and returns its address.
// Meant for callers — tests, mainly — that asked for an ephemeral port
// and need to learn what was actually assigned.
func (p *Proxy) Addr() net.Addr {
	<-p.ready
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Start resolves the CA, binds the listen address, and serves until ctx
// is cancelled, at which point it shuts down gracefully and returns nil.
// Every fatal startup step is reported through the package's sentinel
// errors so a caller can distinguish a bad CA from a bind failure with
// errors.Is.
func (p *Proxy) Start(ctx context.Context) error {
	defer p.closeReady()

	cfg := p.configRx.Borrow()

	keyPEM, err := resource.ResolveAsString(cfg.CA.KeyPairResource(), cfg.DataDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadCAKey, err)
	}
	certPEM, err := resource.ResolveAsString(cfg.CA.CertificateResource(), cfg.DataDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadCACert, err)
	}
	if keyBlock, _ := pem.Decode([]byte(keyPEM)); keyBlock == nil {
		return fmt.Errorf("%w: no PEM block found in key material", ErrBadCAKey)
	} else if _, err := x509.ParseECPrivateKey(keyBlock.Bytes); err != nil {
		return fmt.Errorf("%w: %v", ErrBadCAKey, err)
	}
	root, err := ca.Parse(keyPEM, certPEM)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadCACert, err)
	}

	auth, err := newAuthority(root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTLSInitFailed, err)
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBindFailed, err)
	}

	server := &http.Server{
		Handler: http.HandlerFunc(p.serveHTTP),
		// BaseContext ties every request's context — including a CONNECT
		// request's, which survives past Hijack — to the engine's own
		// lifetime, so a handler can watch ctx.Done() via r.Context() even
		// though Shutdown itself never touches hijacked connections.
		BaseContext: func(net.Listener) context.Context { return ctx },
		ConnContext: func(ctx context.Context, _ net.Conn) context.Context {
			return context.WithValue(ctx, connStateKey{}, &connState{scheme: "http"})
		},
	}

	p.mu.Lock()
	p.authority = auth
	p.listener = listener
	p.server = server
	p.mu.Unlock()
	p.closeReady()

	p.logger.Info().Str("addr", listener.Addr().String()).Msg("proxy listening")

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("proxy: graceful shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("proxy: serve: %w", err)
	}
}

// serveHTTP is the single dispatch point for every request on every
// connection this proxy owns, outer and intercepted alike: it tells
// CONNECT, WebSocket upgrades, and ordinary requests apart and routes to
// the matching handler.
func (p *Proxy) serveHTTP(w http.ResponseWriter, r *http.Request) {
	state, _ := r.Context().Value(connStateKey{}).(*connState)
	if state == nil {
		state = &connState{scheme: "http"}
	}

	switch {
	case r.Method == http.MethodConnect:
		p.handleConnect(w, r, state)
	case isWebSocketUpgrade(r):
		p.handleWebSocket(w, r, state)
	default:
		p.handleHTTP(w, r, state)
	}
}
