package saml

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConfiguration reports missing or unusable SP/IdP settings.
var ErrConfiguration = errors.New("saml: configuration error")

// Config holds the service-provider and identity-provider settings.
type Config struct {
	SPEntityID     string
	ACSURL         string
	IdPEntityID    string
	IdPSSOURL      string
	IdPCertPEM     string
	ClockSkew      time.Duration
	AllowedDomains []string
}

// Validate checks that every required setting is present and that the IdP
// certificate parses.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.SPEntityID) == "" {
		missing = append(missing, "sp entity id")
	}
	if strings.TrimSpace(c.ACSURL) == "" {
		missing = append(missing, "acs url")
	}
	if strings.TrimSpace(c.IdPEntityID) == "" {
		missing = append(missing, "idp entity id")
	}
	if strings.TrimSpace(c.IdPSSOURL) == "" {
		missing = append(missing, "idp sso url")
	}
	if strings.TrimSpace(c.IdPCertPEM) == "" {
		missing = append(missing, "idp certificate")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	if c.ClockSkew < 0 || c.ClockSkew > 10*time.Minute {
		return fmt.Errorf("%w: clock skew must be within [0, 10m]", ErrConfiguration)
	}
	if _, err := parseCertificate(c.IdPCertPEM); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

func parseCertificate(pemText string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("idp certificate is not a PEM certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("idp certificate: %v", err)
	}
	return cert, nil
}
