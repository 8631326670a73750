package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidCA     = errors.New("invalid CA certificate")
	ErrInvalidPolicy = errors.New("invalid TLS policy")
)

// TLSPolicy decides how server certificates are checked on https endpoints.
type TLSPolicy string

const (
	// PolicyStrict verifies the certificate chain and the hostname.
	PolicyStrict TLSPolicy = "strict"

	// PolicyInsecureAcceptAll accepts any certificate for any hostname. It
	// must be selected explicitly in configuration.
	PolicyInsecureAcceptAll TLSPolicy = "insecure"
)

// ParseTLSPolicy accepts "strict", "insecure" (or "insecure-accept-all") in
// any case. An empty string selects PolicyStrict.
func ParseTLSPolicy(s string) (TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PolicyStrict):
		return PolicyStrict, nil
	case string(PolicyInsecureAcceptAll), "insecure-accept-all":
		return PolicyInsecureAcceptAll, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// TLSOptions holds the per-endpoint TLS settings.
type TLSOptions struct {
	Policy        TLSPolicy `mapstructure:"tls_policy" json:"tls_policy"`
	CAPath        string    `mapstructure:"ca_cert" json:"ca_cert,omitempty"`
	CertPath      string    `mapstructure:"client_cert" json:"client_cert,omitempty"`
	KeyPath       string    `mapstructure:"client_key" json:"client_key,omitempty"`
	ServerName    string    `mapstructure:"server_name" json:"server_name,omitempty"`
	MinTLSVersion string    `mapstructure:"min_tls_version" json:"min_tls_version,omitempty"`
}

// DefaultTLSOptions returns strict verification against the system roots.
func DefaultTLSOptions() TLSOptions {
	return TLSOptions{
		Policy:        PolicyStrict,
		MinTLSVersion: "1.2",
	}
}

// Validate checks that the options are coherent.
func (o TLSOptions) Validate() error {
	if _, err := ParseTLSPolicy(string(o.Policy)); err != nil {
		return err
	}
	if (o.CertPath == "") != (o.KeyPath == "") {
		return errors.New("client certificate and key must be configured together")
	}
	switch o.MinTLSVersion {
	case "", "1.2", "1.3":
	default:
		return fmt.Errorf("unsupported minimum TLS version %q", o.MinTLSVersion)
	}
	return nil
}

// Insecure reports whether certificate verification is disabled.
func (o TLSOptions) Insecure() bool {
	p, err := ParseTLSPolicy(string(o.Policy))
	return err == nil && p == PolicyInsecureAcceptAll
}
