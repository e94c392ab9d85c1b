package dmarcauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/dmarcauth/saml"
)

// Config is the static configuration of an Engine. It is copied at Build
// and never read from the environment afterwards.
type Config struct {
	JWT           JWTConfig
	Password      PasswordConfig
	TOTP          TOTPConfig
	RecoveryCodes RecoveryCodeConfig
	Theft         TheftConfig
	RateLimit     RateLimitConfig
	SAML          SAMLConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
TOKENS
====================================
*/

// JWTConfig configures access, refresh and MFA temp tokens.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MFATTL        time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// TheftConfig gates the response to refresh-token reuse.
type TheftConfig struct {
	Enabled          bool
	InvalidateFamily bool
	RevokeTimeout    time.Duration
}

/*
====================================
CREDENTIALS
====================================
*/

// PasswordConfig holds the Argon2id parameters for new hashes.
type PasswordConfig struct {
	MinLength      int
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// TOTPConfig configures authenticator codes. EncryptionSecret is the
// server secret the stored TOTP secrets are encrypted under.
type TOTPConfig struct {
	Issuer           string
	Period           uint
	Digits           int
	Window           int
	EncryptionSecret string
}

type RecoveryCodeConfig struct {
	Count      int
	BcryptCost int
}

/*
====================================
RATE LIMITS
====================================
*/

// RateLimitPolicy allows Max failures per Window, then locks for Lock.
type RateLimitPolicy struct {
	Max    int
	Window time.Duration
	Lock   time.Duration
}

// RateLimitConfig holds one policy per dimension. Distributed moves the
// counters to Redis when a client is supplied to the builder.
type RateLimitConfig struct {
	LoginIP        RateLimitPolicy
	LoginAccount   RateLimitPolicy
	TOTPVerify     RateLimitPolicy
	RecoveryVerify RateLimitPolicy
	TOTPSetup      RateLimitPolicy
	Distributed    bool
	RedisPrefix    string
}

/*
====================================
SAML
====================================
*/

// SAMLConfig describes the service provider and the trusted IdP.
type SAMLConfig struct {
	Enabled         bool
	SPEntityID      string
	ACSURL          string
	IdPEntityID     string
	IdPSSOURL       string
	IdPCertPEM      string
	ClockSkew       time.Duration
	AllowedDomains  []string
	DefaultRole     string
	ReplayGrace     time.Duration
	ReplayTTL       time.Duration
	ReplayKeyPrefix string
}

/*
====================================
OBSERVABILITY
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. Keys and the TOTP encryption
// secret are left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			MFATTL:        5 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "dmarcauth",
		},
		Password: PasswordConfig{
			MinLength:      8,
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		TOTP: TOTPConfig{
			Issuer: "DMARC Dashboard",
			Period: 30,
			Digits: 6,
			Window: 3,
		},
		RecoveryCodes: RecoveryCodeConfig{
			Count:      10,
			BcryptCost: 10,
		},
		Theft: TheftConfig{
			Enabled:          true,
			InvalidateFamily: true,
			RevokeTimeout:    3 * time.Second,
		},
		RateLimit: RateLimitConfig{
			LoginIP:        RateLimitPolicy{Max: 10, Window: 5 * time.Minute, Lock: 5 * time.Minute},
			LoginAccount:   RateLimitPolicy{Max: 5, Window: 5 * time.Minute, Lock: 15 * time.Minute},
			TOTPVerify:     RateLimitPolicy{Max: 5, Window: 15 * time.Minute, Lock: 15 * time.Minute},
			RecoveryVerify: RateLimitPolicy{Max: 3, Window: 15 * time.Minute, Lock: 15 * time.Minute},
			TOTPSetup:      RateLimitPolicy{Max: 10, Window: time.Hour, Lock: time.Hour},
			RedisPrefix:    "dmarcauth:rl:",
		},
		SAML: SAMLConfig{
			ClockSkew:       time.Minute,
			DefaultRole:     "viewer",
			ReplayGrace:     5 * time.Second,
			ReplayTTL:       10 * time.Minute,
			ReplayKeyPrefix: "dmarcauth:saml:",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.SAML.AllowedDomains != nil {
		out.SAML.AllowedDomains = append([]string(nil), cfg.SAML.AllowedDomains...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports every invalid setting at once. The returned error
// matches ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.JWT.AccessTTL <= 0 {
		add("jwt access ttl must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		add("jwt refresh ttl must exceed access ttl")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "ed25519", "hs256":
	default:
		add("jwt signing method %q unsupported", c.JWT.SigningMethod)
	}
	if len(c.JWT.PrivateKey) == 0 {
		add("jwt private key required")
	}

	if c.Password.MinLength < 8 {
		add("password min length must be >= 8")
	}

	if c.TOTP.EncryptionSecret == "" {
		add("totp encryption secret required")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		add("totp digits must be 6 or 8")
	}
	if c.TOTP.Period == 0 {
		add("totp period must be > 0")
	}
	if c.TOTP.Window < 0 || c.TOTP.Window > 10 {
		add("totp window must be within [0, 10]")
	}

	if c.RecoveryCodes.Count <= 0 {
		add("recovery code count must be > 0")
	}
	if c.RecoveryCodes.BcryptCost < 4 || c.RecoveryCodes.BcryptCost > 31 {
		add("recovery code bcrypt cost must be within [4, 31]")
	}

	for name, p := range map[string]RateLimitPolicy{
		"login_ip":        c.RateLimit.LoginIP,
		"login_account":   c.RateLimit.LoginAccount,
		"totp_verify":     c.RateLimit.TOTPVerify,
		"recovery_verify": c.RateLimit.RecoveryVerify,
		"totp_setup":      c.RateLimit.TOTPSetup,
	} {
		if p.Max <= 0 || p.Window <= 0 || p.Lock < 0 {
			add("rate limit %s needs max > 0, window > 0 and lock >= 0", name)
		}
	}

	if c.SAML.Enabled {
		if err := c.SAML.provider().Validate(); err != nil {
			errs = append(errs, err)
		}
		if c.SAML.DefaultRole == "" {
			add("saml default role required")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		add("audit buffer size must be > 0")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
}

func (s SAMLConfig) provider() saml.Config {
	return saml.Config{
		SPEntityID:     s.SPEntityID,
		ACSURL:         s.ACSURL,
		IdPEntityID:    s.IdPEntityID,
		IdPSSOURL:      s.IdPSSOURL,
		IdPCertPEM:     s.IdPCertPEM,
		ClockSkew:      s.ClockSkew,
		AllowedDomains: s.AllowedDomains,
	}
}
