// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
)

// handleConnect terminates a client's CONNECT tunnel itself instead of
// relaying opaque bytes: it hijacks the raw connection, answers "200
// Connection Established", mints a leaf certificate for the requested
// host, performs the TLS handshake as the server, and then hands the
// decrypted connection to a second, nested *http.Server so the usual
// request/response capture path runs on every message inside the
// tunnel. This is the MINT_LEAF / TLS_HANDSHAKE_CLIENT / INTERCEPTED_HTTP
// states of the connection lifecycle.
func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request, _ *connState) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to hijack CONNECT connection")
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		p.logger.Warn().Err(err).Str("target", r.Host).Msg("failed to acknowledge CONNECT")
		clientConn.Close()
		return
	}

	host := r.Host
	if h, _, err := net.SplitHostPort(r.Host); err == nil {
		host = h
	}

	p.mu.Lock()
	auth := p.authority
	p.mu.Unlock()

	leaf, err := auth.leafFor(host)
	if err != nil {
		p.logger.Warn().Err(err).Str("host", host).Msg("failed to mint leaf certificate")
		clientConn.Close()
		return
	}

	tlsConn := tls.Server(clientConn, &tls.Config{Certificates: []tls.Certificate{*leaf}})
	handshakeCtx, cancel := context.WithTimeout(r.Context(), tlsHandshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		p.logger.Warn().Err(err).Str("host", host).Msg(ErrTLSHandshakeFailed.Error())
		tlsConn.Close()
		return
	}

	connClosed := make(chan struct{})
	var connClosedOnce sync.Once
	nested := &http.Server{
		Handler: http.HandlerFunc(p.serveHTTP),
		// r.Context() is derived from the outer server's BaseContext (the
		// engine's own Start context) and keeps living past Hijack for as
		// long as this handler has not returned, so the watcher goroutine
		// below can rely on it even though this tunnel's connection is
		// otherwise invisible to the outer server's Shutdown.
		BaseContext: func(net.Listener) context.Context { return r.Context() },
		ConnState: func(_ net.Conn, s http.ConnState) {
			if s == http.StateClosed {
				connClosedOnce.Do(func() { close(connClosed) })
			}
		},
		ConnContext: func(ctx context.Context, _ net.Conn) context.Context {
			return context.WithValue(ctx, connStateKey{}, &connState{
				scheme:     "https",
				targetAddr: r.Host,
			})
		},
	}

	// Shutdown never closes hijacked connections (documented stdlib
	// behaviour), so this tunnel — and anything relaying inside it, e.g.
	// handleWebSocket's frame loop — would otherwise outlive the engine.
	// Tear it down as soon as the engine's Start context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-r.Context().Done():
			nested.Close()
			tlsConn.Close()
		case <-done:
		}
	}()

	err = nested.Serve(newSingleConnListener(tlsConn))
	if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		p.logger.Debug().Err(err).Str("host", host).Msg("intercepted connection ended")
	}

	// Serve returns as soon as the single-connection listener is drained,
	// while the tunnel's request loop keeps running on its own goroutine.
	// Stay here until that connection closes (or the engine is cancelled),
	// so r.Context() and the watcher above live as long as the tunnel does.
	// A connection taken over by a WebSocket upgrade never reports closed,
	// so such a tunnel keeps this handler waiting until cancellation.
	select {
	case <-connClosed:
	case <-r.Context().Done():
	}
}
