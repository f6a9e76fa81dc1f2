// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import "errors"

// Startup errors are fatal: Start returns one of these (wrapped with
// fmt.Errorf("%w: ...", err)) and the proxy never accepts a connection.
var (
	ErrBadCAKey      = errors.New("proxy: CA key material is unusable")
	ErrBadCACert     = errors.New("proxy: CA certificate material is unusable")
	ErrTLSInitFailed = errors.New("proxy: TLS interception setup failed")
	ErrBindFailed    = errors.New("proxy: failed to bind listen address")
)

// Per-connection errors are logged and never bring down the listener. A
// failed TLS handshake closes the client connection; an unreachable
// upstream or a request that cannot be rebuilt is answered with a 502 or
// 400 response instead, and that connection is not closed. Capture-only
// errors (ErrBodyReadFailed) are logged at warn and never abort the
// in-flight request.
var (
	ErrTLSHandshakeFailed  = errors.New("proxy: TLS handshake with client failed")
	ErrUpstreamUnreachable = errors.New("proxy: upstream connection failed")
	ErrBodyReadFailed      = errors.New("proxy: failed to fully read a message body")
	ErrProtocolViolation   = errors.New("proxy: client violated the HTTP protocol")
)
