// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import "net"

// connStateKey is the context.Context key under which a connState lives,
// installed by http.Server.ConnContext so every request on a connection
// can reach it without a side map keyed by remote address.
type connStateKey struct{}

// connState is the per-connection capability handed to the HTTP and
// WebSocket handlers: the scheme and CONNECT target needed to rebuild an
// absolute URL for a request arriving inside an intercepted tunnel. It
// carries no reference back to the Proxy that created it — it is handed
// to the handler functions as a capability, not held by them. Request and
// response capture don't need a handler-identity slot to find a flow
// across calls: handleHTTP and handleWebSocket each run the whole
// capture/forward sequence for their exchange inline, in one call, and
// hold the flow in a local variable for its lifetime.
type connState struct {
	// scheme is "http" for a connection accepted directly, "https" for
	// one running inside a CONNECT tunnel after TLS termination.
	scheme string
	// targetAddr is the CONNECT target ("host:port"), set only on
	// intercepted connections, used to rebuild an absolute URL when a
	// request's Host header is absent.
	targetAddr string
}

// singleConnListener is a net.Listener that yields exactly one
// connection and then reports itself closed, so a fresh *http.Server
// can be pointed at a single already-established TLS connection (the
// one produced by terminating a CONNECT tunnel) and serve the usual
// keep-alive request loop over it.
type singleConnListener struct {
	ch   chan net.Conn
	addr net.Addr
}

func newSingleConnListener(conn net.Conn) *singleConnListener {
	ch := make(chan net.Conn, 1)
	ch <- conn
	close(ch)
	return &singleConnListener{ch: ch, addr: conn.LocalAddr()}
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	c, ok := <-l.ch
	if !ok {
		return nil, net.ErrClosed
	}
	return c, nil
}

func (l *singleConnListener) Close() error   { return nil }
func (l *singleConnListener) Addr() net.Addr { return l.addr }
