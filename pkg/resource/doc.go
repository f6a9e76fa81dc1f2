// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package resource implements the uniform, read-only byte handle used
// throughout the proxy core: a captured body, an inline CA blob pasted by
// a user, or a PEM file living under the data directory can all be
// resolved to a string without the caller needing to know which one it
// holds.
package resource
