// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLSConfig names PEM files for securing the session link. All fields
// empty means plain TCP.
type TLSConfig struct {
	// Cert and Key are this side's certificate and private key. The
	// server requires both when TLS is on; on the client they enable
	// mutual authentication.
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`

	// CA verifies the peer. On the server it also turns on client
	// certificate verification.
	CA string `yaml:"ca"`

	// ServerName overrides the name the client verifies.
	ServerName string `yaml:"server_name"`
}

// Enabled reports whether any TLS material is configured.
func (t TLSConfig) Enabled() bool {
	return t.Cert != "" || t.Key != "" || t.CA != ""
}

func (t TLSConfig) validate(prefix string, server bool) error {
	if !t.Enabled() {
		return nil
	}
	if (t.Cert == "") != (t.Key == "") {
		return fmt.Errorf("%s: cert and key must be set together", prefix)
	}
	if server && t.Cert == "" {
		return fmt.Errorf("%s: cert and key are required to serve TLS", prefix)
	}
	return nil
}

// ServerTLS builds the listener configuration, or nil when TLS is off.
func (t TLSConfig) ServerTLS() (*tls.Config, error) {
	if !t.Enabled() {
		return nil, nil
	}
	if err := t.validate("tls", true); err != nil {
		return nil, err
	}
	certificate, err := tls.LoadX509KeyPair(t.Cert, t.Key)
	if err != nil {
		return nil, fmt.Errorf("loading server key pair: %w", err)
	}
	result := &tls.Config{
		Certificates: []tls.Certificate{certificate},
		MinVersion:   tls.VersionTLS13,
	}
	if t.CA != "" {
		pool, err := loadPool(t.CA)
		if err != nil {
			return nil, err
		}
		result.ClientCAs = pool
		result.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return result, nil
}

// ClientTLS builds the dialer configuration, or nil when TLS is off.
func (t TLSConfig) ClientTLS() (*tls.Config, error) {
	if !t.Enabled() {
		return nil, nil
	}
	if err := t.validate("tls", false); err != nil {
		return nil, err
	}
	result := &tls.Config{
		ServerName: t.ServerName,
		MinVersion: tls.VersionTLS13,
	}
	if t.CA != "" {
		pool, err := loadPool(t.CA)
		if err != nil {
			return nil, err
		}
		result.RootCAs = pool
	}
	if t.Cert != "" {
		certificate, err := tls.LoadX509KeyPair(t.Cert, t.Key)
		if err != nil {
			return nil, fmt.Errorf("loading client key pair: %w", err)
		}
		result.Certificates = []tls.Certificate{certificate}
	}
	return result, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, errors.New("CA bundle contains no PEM certificates")
	}
	return pool, nil
}
