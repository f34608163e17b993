// Copyright 2026 The Icon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package certmgr generates and caches the local certificate authority and
// its per-domain forged leaf certificates used to terminate intercepted
// TLS connections (spec C1).
package certmgr

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// leafCacheSize bounds the in-memory forged-certificate cache; a bound of
// 256 comfortably covers the fixed domain list in internal/domainfilter.
const leafCacheSize = 256

// caValidity and leafValidity set certificate lifetimes (spec §4.1).
const (
	caValidity   = 10 * 365 * 24 * time.Hour
	leafValidity = 7 * 24 * time.Hour
	caKeyBits    = 4096
	leafKeyBits  = 2048
)

const caCommonName = "Icon Security CA"

// Manager owns the CA keypair and forges/caches leaf certificates for
// domains the proxy intercepts.
type Manager struct {
	log *zap.Logger

	caCert *x509.Certificate
	caKey  *rsa.PrivateKey

	leafCache *lru.Cache[string, *tls.Certificate]
	group     singleflight.Group // coalesces concurrent forges for the same domain
}

// LoadOrGenerate loads a CA from certFile/keyFile, generating a fresh one
// if either file is absent.
func LoadOrGenerate(certFile, keyFile string, log *zap.Logger) (*Manager, error) {
	m, err := load(certFile, keyFile)
	if err == nil {
		log.Info("loaded CA from disk", zap.String("cert_file", certFile))
		return newManager(m.caCert, m.caKey, log)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("certmgr: load CA: %w", err)
	}

	log.Info("no CA found, generating new root")
	cert, key, err := generateCA()
	if err != nil {
		return nil, fmt.Errorf("certmgr: generate CA: %w", err)
	}
	if err := persist(certFile, keyFile, cert, key); err != nil {
		return nil, fmt.Errorf("certmgr: persist CA: %w", err)
	}
	log.Info("generated new CA", zap.String("cert_file", certFile), zap.String("key_file", keyFile))
	return newManager(cert, key, log)
}

func newManager(cert *x509.Certificate, key *rsa.PrivateKey, log *zap.Logger) (*Manager, error) {
	cache, err := lru.New[string, *tls.Certificate](leafCacheSize)
	if err != nil {
		return nil, err
	}
	return &Manager{log: log, caCert: cert, caKey: key, leafCache: cache}, nil
}

type loaded struct {
	caCert *x509.Certificate
	caKey  *rsa.PrivateKey
}

func load(certFile, keyFile string) (*loaded, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("certmgr: no PEM block in %s", certFile)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certmgr: parse CA cert: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("certmgr: no PEM block in %s", keyFile)
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		k2, err2 := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("certmgr: parse CA key: %w (pkcs8: %v)", err, err2)
		}
		var ok bool
		key, ok = k2.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("certmgr: CA key is not RSA")
		}
	}
	return &loaded{caCert: cert, caKey: key}, nil
}

func generateCA() (*x509.Certificate, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, caKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   caCommonName,
			Organization: []string{"Icon DLP Agent"},
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
		MaxPathLenZero:        false,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create CA cert: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("parse created CA cert: %w", err)
	}
	return cert, key, nil
}

func persist(certFile, keyFile string, cert *x509.Certificate, key *rsa.PrivateKey) error {
	certOut, err := os.OpenFile(certFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open cert file: %w", err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}); err != nil {
		return fmt.Errorf("write cert PEM: %w", err)
	}

	// CA private key is the crown jewel: restrict to owner-only.
	keyOut, err := os.OpenFile(keyFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open key file: %w", err)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}); err != nil {
		return fmt.Errorf("write key PEM: %w", err)
	}
	return nil
}

// CACertPEM returns the CA certificate in PEM form, for trust-store
// installation or distribution to managed clients.
func (m *Manager) CACertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: m.caCert.Raw})
}

// leafFor forges (or returns a cached) leaf certificate for domain, signed
// by the CA. Concurrent requests for the same domain are coalesced via
// singleflight so only one forge happens even under a connection burst.
func (m *Manager) leafFor(domain string) (*tls.Certificate, error) {
	if cert, ok := m.leafCache.Get(domain); ok {
		if time.Until(cert.Leaf.NotAfter) > time.Hour {
			return cert, nil
		}
	}

	result, err, _ := m.group.Do(domain, func() (any, error) {
		if cert, ok := m.leafCache.Get(domain); ok && time.Until(cert.Leaf.NotAfter) > time.Hour {
			return cert, nil
		}
		cert, err := m.forge(domain)
		if err != nil {
			return nil, err
		}
		m.leafCache.Add(domain, cert)
		return cert, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*tls.Certificate), nil
}

func (m *Manager) forge(domain string) (*tls.Certificate, error) {
	leafKey, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: domain},
		DNSNames:     []string{domain},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, m.caCert, &leafKey.PublicKey, m.caKey)
	if err != nil {
		return nil, fmt.Errorf("sign leaf cert: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse leaf cert: %w", err)
	}

	m.log.Debug("forged leaf certificate", zap.String("domain", domain), zap.Time("not_after", leaf.NotAfter))

	return &tls.Certificate{
		Certificate: [][]byte{der, m.caCert.Raw},
		PrivateKey:  leafKey,
		Leaf:        leaf,
	}, nil
}

// GetServerConfig returns the *tls.Config the proxy presents to the
// client for domain. ALPN is restricted to http/1.1 only: the framer
// downstream assumes HTTP/1.1 message framing, and negotiating h2 would
// hand it a binary frame stream it cannot parse (spec §9 hard contract).
func (m *Manager) GetServerConfig(domain string) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"http/1.1"},
		GetCertificate: func(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
			return m.leafFor(domain)
		},
	}
}

// UpstreamConnector returns the *tls.Config used when the proxy itself
// dials the real upstream server, verifying against the standard system
// trust store (no pinning here; see internal/apiclient for control-channel
// pinning to the Icon API).
func (m *Manager) UpstreamConnector() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"http/1.1"},
	}
}
