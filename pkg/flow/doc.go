// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package flow implements the captured-interaction model (a request
// paired with its eventual response, or a reserved WebSocket session)
// and the concurrent, order-preserving store the proxy engine deposits
// them into for the inspector UI to read.
package flow
