// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package config defines the proxy core's typed configuration: listen
// address, CA resource references, and data directory, loaded from
// telescope_proxy.toml and distributed to the engine through a watch
// channel so mid-run edits become visible without lock contention on the
// engine's read path.
package config
