// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package ca mints and persists the local root certificate authority the
// proxy uses to sign per-host leaf certificates, and parses an existing
// CA key/certificate pair back into a form the proxy engine can sign
// leaves with.
package ca
