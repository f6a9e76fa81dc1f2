// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Distinguished name fields for the root CA. The source repository wrote
// two successive CA files with differing distinguished-name content
// across drafts ("Hudsucker Industries" in the earliest, these values in
// the latest); the later values are canonical.
const (
	CommonName   = "Telescope MITM Proxy"
	Organization = "The quieter you are, the more you hear"
	Country      = "US"
	Province     = "NY"
	Locality     = "NYC"
)

// KeyFileName and CertFileName are the fixed filenames a derived CA is
// written under inside the data directory.
const (
	KeyFileName  = "key.pem"
	CertFileName = "cert.pem"
)

const certValidity = 10 * 365 * 24 * time.Hour

// CA is a parsed, ready-to-sign root certificate authority: a private key
// plus the self-signed certificate that vouches for it. It mints leaf
// certificates for intercepted hostnames on demand.
type CA struct {
	key     crypto.Signer
	cert    *x509.Certificate
	certDER []byte
}

// Derive mints a fresh ECDSA P-256 key pair and a self-signed, unconstrained
// CA certificate, and writes both as PEM under dataDir (key.pem, cert.pem).
// Running it twice produces two independent, valid CA pairs; the second
// overwrites the first. Any I/O failure is returned wrapped with %w, so
// errors.Is still sees the underlying error; the caller is expected to
// fold it into the startup error taxonomy.
func Derive(dataDir string) (keyPath, certPath string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("ca: generate key pair: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("ca: generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   CommonName,
			Organization: []string{Organization},
			Country:      []string{Country},
			Province:     []string{Province},
			Locality:     []string{Locality},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(certValidity),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return "", "", fmt.Errorf("ca: self-sign certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("ca: marshal key pair: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	keyPath = filepath.Join(dataDir, KeyFileName)
	certPath = filepath.Join(dataDir, CertFileName)

	if err := writeAtomic(keyPath, keyPEM); err != nil {
		return "", "", fmt.Errorf("ca: write key: %w", err)
	}
	if err := writeAtomic(certPath, certPEM); err != nil {
		return "", "", fmt.Errorf("ca: write cert: %w", err)
	}

	return keyPath, certPath, nil
}

// writeAtomic writes data to a temp file beside path and renames it into
// place, so a reader never observes a partially written CA file.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Parse builds a usable CA from PEM-encoded key and certificate material,
// as resolved from the configuration's CA resources. The key must be an
// EC private key; the certificate must be the one that vouches for it.
func Parse(keyPEM, certPEM string) (*CA, error) {
	keyBlock, _ := pem.Decode([]byte(keyPEM))
	if keyBlock == nil {
		return nil, fmt.Errorf("ca: no PEM block found in key material")
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ca: parse EC private key: %w", err)
	}

	certBlock, _ := pem.Decode([]byte(certPEM))
	if certBlock == nil {
		return nil, fmt.Errorf("ca: no PEM block found in certificate material")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ca: parse certificate: %w", err)
	}

	return &CA{key: key, cert: cert, certDER: certBlock.Bytes}, nil
}

// Certificate returns the parsed root certificate.
func (c *CA) Certificate() *x509.Certificate {
	return c.cert
}

// MintLeaf signs a short-lived server certificate for host, usable
// immediately in a tls.Certificate. Each call performs a fresh signature;
// callers that mint per hostname on the TLS handshake hot path should
// cache the result (see the proxy package's authority type).
func (c *CA) MintLeaf(host string) (*x509.Certificate, crypto.Signer, error) {
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("ca: generate leaf key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("ca: generate leaf serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   host,
			Organization: []string{Organization},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(72 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	leafDER, err := x509.CreateCertificate(rand.Reader, template, c.cert, &leafKey.PublicKey, c.key)
	if err != nil {
		return nil, nil, fmt.Errorf("ca: sign leaf for %q: %w", host, err)
	}

	leafCert, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, nil, fmt.Errorf("ca: parse minted leaf for %q: %w", host, err)
	}

	return leafCert, leafKey, nil
}

// DERBytes returns the raw DER of the leaf's signing root certificate,
// used by MintLeaf's caller to build the tls.Certificate chain.
func (c *CA) DERBytes() []byte {
	return c.certDER
}
