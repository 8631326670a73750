package auth

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// DefaultExpiryWarning is how close to expiry a certificate is reported as
// expiring soon.
const DefaultExpiryWarning = 30 * 24 * time.Hour

type CertificateState string

const (
	CertValid        CertificateState = "VALID"
	CertExpiringSoon CertificateState = "EXPIRING_SOON"
	CertExpired      CertificateState = "EXPIRED"
	CertNotYetValid  CertificateState = "NOT_YET_VALID"
)

// CertificateInfo holds parsed certificate details for display and logging.
type CertificateInfo struct {
	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	IsCA      bool
	DNSNames  []string
	State     CertificateState
	ExpiresIn time.Duration
}

func newCertificateInfo(cert *x509.Certificate, now time.Time, warnWithin time.Duration) CertificateInfo {
	info := CertificateInfo{
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		IsCA:      cert.IsCA,
		DNSNames:  cert.DNSNames,
		ExpiresIn: cert.NotAfter.Sub(now),
	}

	switch {
	case now.After(cert.NotAfter):
		info.State = CertExpired
	case now.Before(cert.NotBefore):
		info.State = CertNotYetValid
	case info.ExpiresIn < warnWithin:
		info.State = CertExpiringSoon
	default:
		info.State = CertValid
	}
	return info
}

// LoadCertificateInfo parses every certificate in a PEM file. CA bundles
// usually hold several; non-certificate blocks such as keys are skipped.
func LoadCertificateInfo(path string, warnWithin time.Duration) ([]CertificateInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}

	now := time.Now()
	var infos []CertificateInfo
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate in %s: %w", path, err)
		}
		infos = append(infos, newCertificateInfo(cert, now, warnWithin))
	}

	if len(infos) == 0 {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return infos, nil
}

// CertificateFiles returns the certificate files named by the options.
func (o TLSOptions) CertificateFiles() []string {
	var files []string
	if o.CAPath != "" {
		files = append(files, o.CAPath)
	}
	if o.CertPath != "" {
		files = append(files, o.CertPath)
	}
	return files
}
