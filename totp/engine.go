package totp

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const secretSize = 20

// ErrEmptySecret is returned when validating against an empty secret.
var ErrEmptySecret = errors.New("totp: empty secret")

// Config defines the code parameters. Zero values fall back to SHA1,
// 6 digits, 30s period and a window of 3 steps each side.
type Config struct {
	Issuer string
	Period uint
	Digits int
	Window int
}

// Key is a freshly generated secret and its otpauth provisioning URI.
type Key struct {
	Secret string
	URI    string
}

// Engine validates codes for a fixed Config.
type Engine struct {
	issuer string
	period uint
	digits otp.Digits
	window int
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	e := &Engine{issuer: cfg.Issuer, period: cfg.Period, digits: otp.Digits(cfg.Digits), window: cfg.Window}
	if e.period == 0 {
		e.period = 30
	}
	if e.digits == 0 {
		e.digits = otp.DigitsSix
	}
	if e.window < 0 {
		e.window = 0
	}
	return e
}

// GenerateSecret creates a 160-bit secret for account.
func (e *Engine) GenerateSecret(account string) (Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: account,
		Period:      e.period,
		SecretSize:  secretSize,
		Digits:      e.digits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Key{}, fmt.Errorf("totp: generate secret: %w", err)
	}
	return Key{Secret: key.Secret(), URI: key.URL()}, nil
}

// Step returns the time-step index containing t.
func (e *Engine) Step(t time.Time) int64 {
	return t.Unix() / int64(e.period)
}

// StepStart returns the first instant of step.
func (e *Engine) StepStart(step int64) time.Time {
	return time.Unix(step*int64(e.period), 0).UTC()
}

// CodeAt returns the code valid during the step containing t.
func (e *Engine) CodeAt(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, e.opts())
}

// Validate checks code against the steps within the window around now.
// On success it returns the matched step, which is currentStep + delta.
func (e *Engine) Validate(code, secret string, now time.Time) (bool, int64, error) {
	if secret == "" {
		return false, 0, ErrEmptySecret
	}
	code = strings.TrimSpace(code)
	if len(code) != e.digits.Length() || !numeric(code) {
		return false, 0, nil
	}

	current := e.Step(now)
	for delta := -e.window; delta <= e.window; delta++ {
		step := current + int64(delta)
		if step < 0 {
			continue
		}
		want, err := totp.GenerateCodeCustom(secret, e.StepStart(step), e.opts())
		if err != nil {
			return false, 0, fmt.Errorf("totp: generate code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return true, step, nil
		}
	}
	return false, 0, nil
}

// IsReplay reports whether step was already consumed, given the start of
// the last accepted step. Steps at or before the last one are refused.
func (e *Engine) IsReplay(lastUsedAt *time.Time, step int64) bool {
	if lastUsedAt == nil || lastUsedAt.IsZero() {
		return false
	}
	return e.Step(*lastUsedAt) >= step
}

func (e *Engine) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    e.period,
		Digits:    e.digits,
		Algorithm: otp.AlgorithmSHA1,
	}
}

func numeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
