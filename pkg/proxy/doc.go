// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package proxy is the intercepting HTTP/HTTPS/WebSocket engine: it
// accepts client connections, mints per-host leaf certificates off a
// locally derived root CA to terminate TLS for CONNECT tunnels, tees
// every request/response pair (and WebSocket upgrade handshake) into a
// flow.Store as it forwards bytes upstream, and picks up listen-address
// and CA changes the host publishes over a watch channel on the next
// restart cycle.
package proxy
