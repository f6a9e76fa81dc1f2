// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"os"
	"testing"
)

func readPEMPair(t *testing.T, keyPath, certPath string) (keyPEM, certPEM string) {
	t.Helper()
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatalf("read key file: %v", err)
	}
	certBytes, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatalf("read cert file: %v", err)
	}
	return string(keyBytes), string(certBytes)
}
