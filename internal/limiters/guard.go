package limiters

import (
	"time"

	"github.com/MrEthical07/dmarcauth/internal/rate"
)

// Dimension names. They appear in rate-limit errors and store keys.
const (
	DimensionLoginIP        = "login_ip"
	DimensionLoginAccount   = "login_account"
	DimensionTOTPVerify     = "totp_verify"
	DimensionRecoveryVerify = "recovery_verify"
	DimensionTOTPSetup      = "totp_setup"
)

// Config holds one policy per dimension.
type Config struct {
	LoginIP        rate.Policy
	LoginAccount   rate.Policy
	TOTPVerify     rate.Policy
	RecoveryVerify rate.Policy
	TOTPSetup      rate.Policy
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		LoginIP:        rate.Policy{Max: 10, Window: 5 * time.Minute, LockDuration: 5 * time.Minute},
		LoginAccount:   rate.Policy{Max: 5, Window: 5 * time.Minute, LockDuration: 15 * time.Minute},
		TOTPVerify:     rate.Policy{Max: 5, Window: 15 * time.Minute, LockDuration: 15 * time.Minute},
		RecoveryVerify: rate.Policy{Max: 3, Window: 15 * time.Minute, LockDuration: 15 * time.Minute},
		TOTPSetup:      rate.Policy{Max: 10, Window: time.Hour, LockDuration: time.Hour},
	}
}

// Guard groups the per-dimension limiters used by the engine.
type Guard struct {
	loginIP        *rate.Limiter
	loginAccount   *rate.Limiter
	totpVerify     *rate.Limiter
	recoveryVerify *rate.Limiter
	totpSetup      *rate.Limiter
}

// NewGuard creates every dimension on the shared store. A nil now uses
// time.Now.
func NewGuard(store rate.Store, cfg Config, now func() time.Time) *Guard {
	return &Guard{
		loginIP:        rate.New(store, DimensionLoginIP, cfg.LoginIP, now),
		loginAccount:   rate.New(store, DimensionLoginAccount, cfg.LoginAccount, now),
		totpVerify:     rate.New(store, DimensionTOTPVerify, cfg.TOTPVerify, now),
		recoveryVerify: rate.New(store, DimensionRecoveryVerify, cfg.RecoveryVerify, now),
		totpSetup:      rate.New(store, DimensionTOTPSetup, cfg.TOTPSetup, now),
	}
}
