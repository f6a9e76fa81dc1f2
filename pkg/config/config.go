// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"

	"github.com/javaarchive/telescope-proxy/pkg/resource"
)

const (
	// FileName is the config file looked for under the data directory.
	FileName = "telescope_proxy.toml"

	defaultAddr               = "127.0.0.1:8080"
	defaultKeyPairRelPath     = "key_pair.pem"
	defaultCertificateRelPath = "certificate.pem"
)

// resourceRef is the on-disk, TOML-friendly encoding of a resource.Resource.
// resource.Resource's fields are unexported by design (it's a tagged union
// meant to be matched exhaustively, not reflected over), so the config
// layer owns this small serializable shadow and converts at the boundary.
type resourceRef struct {
	Type   string `toml:"type"`
	Path   string `toml:"path,omitempty"`
	Inline string `toml:"inline,omitempty"`
}

func refFromFile(path string) resourceRef {
	return resourceRef{Type: "file", Path: path}
}

// Resource converts this on-disk reference into a resource.Resource.
func (r resourceRef) Resource() resource.Resource {
	switch r.Type {
	case "file":
		return resource.NewFile(r.Path)
	case "inline":
		return resource.NewInline(r.Inline)
	default:
		return resource.Empty()
	}
}

func refFromResource(r resource.Resource) resourceRef {
	if path, ok := r.Path(); ok {
		return resourceRef{Type: "file", Path: path}
	}
	if s, err := r.AsString(); err == nil {
		return resourceRef{Type: "inline", Inline: s}
	}
	return resourceRef{Type: "memory"}
}

// CertificateAuthority names the resources backing the local root CA: a
// private key and the certificate that vouches for it.
type CertificateAuthority struct {
	KeyPair     resourceRef `toml:"key_pair"`
	Certificate resourceRef `toml:"certificate"`
}

// KeyPairResource returns the CA key material as a resource.Resource.
func (c CertificateAuthority) KeyPairResource() resource.Resource {
	return c.KeyPair.Resource()
}

// CertificateResource returns the CA certificate material as a resource.Resource.
func (c CertificateAuthority) CertificateResource() resource.Resource {
	return c.Certificate.Resource()
}

// SetKeyPairFile points the CA key reference at a file path relative to
// the data directory (used once CA derivation has run).
func (c *CertificateAuthority) SetKeyPairFile(path string) {
	c.KeyPair = refFromFile(path)
}

// SetCertificateFile points the CA certificate reference at a file path
// relative to the data directory.
func (c *CertificateAuthority) SetCertificateFile(path string) {
	c.Certificate = refFromFile(path)
}

// SetKeyPair points the CA key reference at an arbitrary resource.Resource
// rather than a known file path — the host's publish side of the config
// channel uses this when it hands the core a CA it built in memory or an
// inline-pasted test key, the same small-runtime-editable-blob case §4.A
// describes for InlineString resources.
func (c *CertificateAuthority) SetKeyPair(r resource.Resource) {
	c.KeyPair = refFromResource(r)
}

// SetCertificate is SetKeyPair's counterpart for the CA certificate.
func (c *CertificateAuthority) SetCertificate(r resource.Resource) {
	c.Certificate = refFromResource(r)
}

// Config is the proxy core's full runtime configuration: the listen
// address, the CA resource bundle, and the data directory, plus a
// loaded flag distinguishing a defaulted config from one parsed from
// disk. Config is exclusively owned by a watch.Sender's publisher;
// consumers (the proxy engine) hold receivers and never mutate it
// directly.
type Config struct {
	Addr string               `toml:"addr"`
	CA   CertificateAuthority `toml:"ca"`

	// DataDir is never serialized; it is injected by the host at load
	// time (see §6 of the spec: "Not serialized; injected by host at
	// load time").
	DataDir string `toml:"-"`

	// Loaded is true iff this Config was successfully parsed from an
	// on-disk telescope_proxy.toml, false if it is a default.
	Loaded bool `toml:"-"`
}

// Default returns a Config with the documented defaults: listen on
// 127.0.0.1:8080, CA resources pointing at relative paths key_pair.pem /
// certificate.pem (placeholders until a CA is derived), data dir set to
// the current working directory.
func Default() Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Config{
		Addr: defaultAddr,
		CA: CertificateAuthority{
			KeyPair:     refFromFile(defaultKeyPairRelPath),
			Certificate: refFromFile(defaultCertificateRelPath),
		},
		DataDir: cwd,
		Loaded:  false,
	}
}

// TryLoadOrDefault looks for telescope_proxy.toml under dataDir. On a
// read or parse failure it logs a non-fatal error and returns a default
// Config with DataDir overridden and Loaded=false — load failures are
// never fatal to starting the proxy.
func TryLoadOrDefault(dataDir string) Config {
	path := filepath.Join(dataDir, FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Str("path", path).Msg("failed to read proxy config file")
		}
		cfg := Default()
		cfg.UpdateDataDir(dataDir)
		return cfg
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to parse proxy config file")
		defaulted := Default()
		defaulted.UpdateDataDir(dataDir)
		return defaulted
	}

	cfg.DataDir = dataDir
	cfg.Loaded = true
	return cfg
}

// UpdateDataDir repoints this Config at a new data directory, without
// otherwise touching its fields.
func (c *Config) UpdateDataDir(dataDir string) {
	c.DataDir = dataDir
}

// Save serializes this Config as TOML under its DataDir, overwriting any
// existing telescope_proxy.toml. DataDir itself and the Loaded flag are
// never written, matching the on-disk key table in the spec.
func (c Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	path := filepath.Join(c.DataDir, FileName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %q: %w", path, err)
	}
	return nil
}

// AdoptDerivedCA points this Config's CA resources at the key/cert files
// a fresh ca.Derive call just wrote, recording them as paths relative to
// DataDir (the spec requires File resources to be anchored under
// data_dir rather than absolute, so configs survive moving the
// workspace).
func (c *Config) AdoptDerivedCA(keyPath, certPath string) {
	keyRel, err := filepath.Rel(c.DataDir, keyPath)
	if err != nil {
		keyRel = keyPath
	}
	certRel, err := filepath.Rel(c.DataDir, certPath)
	if err != nil {
		certRel = certPath
	}
	c.CA.SetKeyPairFile(keyRel)
	c.CA.SetCertificateFile(certRel)
}
