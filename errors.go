package dmarcauth

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidCredentials is returned for any failed password check,
	// unknown account included.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken covers malformed, unknown, mismatched and hash-mismatched tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is natural expiry of a refresh or MFA token.
	ErrExpiredToken = errors.New("token expired")
	// ErrSessionCompromised is returned when a revoked refresh token is reused.
	ErrSessionCompromised = errors.New("session compromised")
	ErrInvalidTotpCode    = errors.New("invalid totp code")
	// ErrTotpReplay is a valid code for a time step that was already used.
	// It maps to the same public code as ErrInvalidTotpCode.
	ErrTotpReplay              = errors.New("totp code already used")
	ErrTotpNotEnabled          = errors.New("totp not enabled")
	ErrTotpAlreadyEnabled      = errors.New("totp already enabled")
	ErrRecoveryCodeAlreadyUsed = errors.New("recovery code already used")
	ErrInvalidRecoveryCode     = errors.New("invalid recovery code")
	// ErrRateLimited matches every *RateLimitError through errors.Is.
	ErrRateLimited          = errors.New("rate limited")
	ErrSamlReplay           = errors.New("saml assertion replay")
	ErrSamlAssertionInvalid = errors.New("saml assertion invalid")
	// ErrConfiguration is returned by Config.Validate and Builder.Build.
	ErrConfiguration  = errors.New("configuration error")
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrUserNotFound is returned by UserStore lookups that match nothing.
	// The engine never surfaces it to callers.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnavailable wraps store and cache failures.
	ErrUnavailable = errors.New("backend unavailable")
)

// RateLimitError reports which limiter dimension denied the request and
// when to retry.
type RateLimitError struct {
	Dimension  string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Dimension, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum one.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Public error codes returned by ErrorCode.
const (
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeExpiredToken         = "EXPIRED_TOKEN"
	CodeSessionCompromised   = "SESSION_COMPROMISED"
	CodeInvalidTotpCode      = "INVALID_TOTP_CODE"
	CodeTotpNotEnabled       = "TOTP_NOT_ENABLED"
	CodeTotpAlreadyEnabled   = "TOTP_ALREADY_ENABLED"
	CodeInvalidRecoveryCode  = "INVALID_RECOVERY_CODE"
	CodeRateLimited          = "RATE_LIMITED"
	CodeSamlReplay           = "SAML_REPLAY"
	CodeSamlAssertionInvalid = "SAML_ASSERTION_INVALID"
	CodeConfiguration        = "CONFIGURATION_ERROR"
	CodePasswordPolicy       = "PASSWORD_POLICY"
	CodeUnavailable          = "SERVICE_UNAVAILABLE"
	CodeInternal             = "INTERNAL_ERROR"
)

// ErrorCode maps err onto a stable public code. Replay and already-used
// variants share the code of their plain counterpart so responses do not
// reveal which one happened.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionCompromised):
		return CodeSessionCompromised
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrExpiredToken):
		return CodeExpiredToken
	case errors.Is(err, ErrInvalidToken):
		return CodeInvalidToken
	case errors.Is(err, ErrInvalidTotpCode), errors.Is(err, ErrTotpReplay):
		return CodeInvalidTotpCode
	case errors.Is(err, ErrTotpNotEnabled):
		return CodeTotpNotEnabled
	case errors.Is(err, ErrTotpAlreadyEnabled):
		return CodeTotpAlreadyEnabled
	case errors.Is(err, ErrInvalidRecoveryCode), errors.Is(err, ErrRecoveryCodeAlreadyUsed):
		return CodeInvalidRecoveryCode
	case errors.Is(err, ErrSamlReplay):
		return CodeSamlReplay
	case errors.Is(err, ErrSamlAssertionInvalid):
		return CodeSamlAssertionInvalid
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrPasswordPolicy):
		return CodePasswordPolicy
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
