package saml

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/dmarcauth/internal"
)

// ErrAssertionInvalid covers every validation failure of a profile.
var ErrAssertionInvalid = errors.New("saml: assertion invalid")

// Profile is the verified content of one assertion.
type Profile struct {
	ID           string
	Issuer       string
	InResponseTo string
	SessionIndex string
	NameID       string
	Email        string
	Audiences    []string
	Recipient    string
	NotBefore    time.Time
	NotOnOrAfter time.Time
	Attributes   map[string][]string
}

// AssertionID returns the IdP-supplied id, or a SHA-256 composite when the
// IdP sent none. The composite covers the subject and NotOnOrAfter as well as
// inResponseTo, sessionIndex and issuer, so IdP-initiated assertions that
// carry none of the request identifiers still differ per user and per issue.
func AssertionID(p Profile) string {
	if id := strings.TrimSpace(p.ID); id != "" {
		return id
	}
	parts := []string{
		p.InResponseTo,
		p.SessionIndex,
		p.Issuer,
		strings.ToLower(strings.TrimSpace(p.NameID)),
		strings.ToLower(strings.TrimSpace(p.Email)),
		strconv.FormatInt(p.NotOnOrAfter.UnixNano(), 10),
	}
	return "composite:" + internal.SHA256Hex(strings.Join(parts, "|"))
}

// Validator checks profiles against a Config.
type Validator struct {
	cfg Config
}

// NewValidator validates cfg and returns a Validator.
func NewValidator(cfg Config) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Validator{cfg: cfg}, nil
}

// Validate checks issuer, audience, recipient, validity window and email.
// It returns the normalised email on success.
func (v *Validator) Validate(p Profile, now time.Time) (string, error) {
	if p.Issuer != v.cfg.IdPEntityID {
		return "", fmt.Errorf("%w: unexpected issuer", ErrAssertionInvalid)
	}
	if !slices.Contains(p.Audiences, v.cfg.SPEntityID) {
		return "", fmt.Errorf("%w: audience mismatch", ErrAssertionInvalid)
	}
	if p.Recipient != "" && p.Recipient != v.cfg.ACSURL {
		return "", fmt.Errorf("%w: recipient mismatch", ErrAssertionInvalid)
	}
	skew := v.cfg.ClockSkew
	if !p.NotBefore.IsZero() && now.Add(skew).Before(p.NotBefore) {
		return "", fmt.Errorf("%w: not yet valid", ErrAssertionInvalid)
	}
	if p.NotOnOrAfter.IsZero() || !now.Add(-skew).Before(p.NotOnOrAfter) {
		return "", fmt.Errorf("%w: expired", ErrAssertionInvalid)
	}

	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" && strings.Contains(p.NameID, "@") {
		email = strings.ToLower(strings.TrimSpace(p.NameID))
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "", fmt.Errorf("%w: no email", ErrAssertionInvalid)
	}
	if len(v.cfg.AllowedDomains) > 0 && !slices.Contains(v.cfg.AllowedDomains, email[at+1:]) {
		return "", fmt.Errorf("%w: domain not allowed", ErrAssertionInvalid)
	}
	return email, nil
}
