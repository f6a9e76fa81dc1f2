// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"crypto/tls"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/javaarchive/telescope-proxy/pkg/ca"
)

// leafCacheSize bounds the number of distinct hostnames an authority will
// keep minted leaf certificates for at once. Eviction just means the next
// CONNECT for that host pays a fresh signature; it is never observable to
// a client.
const leafCacheSize = 1000

// authority mints and caches per-host TLS server certificates off a
// single root CA, so repeated CONNECTs to the same host reuse a
// signature instead of paying ca.CA.MintLeaf on every handshake. It
// holds no reference back to the Proxy that owns it — callers pass it
// in as a capability.
type authority struct {
	root *ca.CA

	mu    sync.Mutex
	cache *lru.Cache[string, *tls.Certificate]
}

func newAuthority(root *ca.CA) (*authority, error) {
	cache, err := lru.New[string, *tls.Certificate](leafCacheSize)
	if err != nil {
		return nil, fmt.Errorf("proxy: construct leaf cache: %w", err)
	}
	return &authority{root: root, cache: cache}, nil
}

// leafFor returns a tls.Certificate for host, minting and caching one on
// a miss. Safe for concurrent use across connection goroutines.
func (a *authority) leafFor(host string) (*tls.Certificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cert, ok := a.cache.Get(host); ok {
		return cert, nil
	}

	leaf, key, err := a.root.MintLeaf(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTLSInitFailed, err)
	}

	cert := &tls.Certificate{
		Certificate: [][]byte{leaf.Raw, a.root.DERBytes()},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	a.cache.Add(host, cert)
	return cert, nil
}
