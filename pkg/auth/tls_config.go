package auth

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfigBuilder builds client TLS configurations for repository endpoints.
type TLSConfigBuilder struct {
	options TLSOptions
}

// NewTLSConfigBuilder creates a new TLS configuration builder
func NewTLSConfigBuilder(options TLSOptions) (*TLSConfigBuilder, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	return &TLSConfigBuilder{options: options}, nil
}

// BuildClientConfig creates the TLS configuration used by an endpoint's HTTP
// transport. Every call returns a fresh *tls.Config; nothing is installed
// process-wide.
func (b *TLSConfigBuilder) BuildClientConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: b.getTLSVersion(),
		ServerName: b.options.ServerName,
	}

	// The client certificate is presented under either policy.
	if b.options.CertPath != "" && b.options.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(b.options.CertPath, b.options.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if b.options.Insecure() {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	// Empty CA path keeps the system roots.
	if b.options.CAPath != "" {
		caPool, err := b.loadCAPool(b.options.CAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA pool: %w", err)
		}
		tlsConfig.RootCAs = caPool
	}

	return tlsConfig, nil
}

// loadCAPool loads a CA certificate pool from file
func (b *TLSConfigBuilder) loadCAPool(path string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, ErrInvalidCA
	}

	return caPool, nil
}

// getTLSVersion returns the minimum TLS version from config
func (b *TLSConfigBuilder) getTLSVersion() uint16 {
	switch b.options.MinTLSVersion {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
