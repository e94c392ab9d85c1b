package dmarcauth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/dmarcauth/internal/audit"
	"github.com/MrEthical07/dmarcauth/internal/limiters"
	"github.com/MrEthical07/dmarcauth/internal/rate"
	"github.com/MrEthical07/dmarcauth/jwt"
	"github.com/MrEthical07/dmarcauth/ledger"
	"github.com/MrEthical07/dmarcauth/password"
	"github.com/MrEthical07/dmarcauth/recovery"
	"github.com/MrEthical07/dmarcauth/saml"
	"github.com/MrEthical07/dmarcauth/totp"
)

// Builder assembles an Engine. It is single use.
type Builder struct {
	config Config

	users     UserStore
	tokens    ledger.Store
	codes     recovery.Store
	rateStore RateStore
	redis     redis.UniversalClient

	logger    *slog.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithUserStore(s UserStore) *Builder {
	b.users = s
	return b
}

func (b *Builder) WithTokenStore(s ledger.Store) *Builder {
	b.tokens = s
	return b
}

func (b *Builder) WithRecoveryStore(s recovery.Store) *Builder {
	b.codes = s
	return b
}

// WithRateStore overrides the rate-limit store. Without it the engine uses
// NewMemoryRateStore, or Redis when RateLimit.Distributed is set and a
// client was supplied.
func (b *Builder) WithRateStore(s RateStore) *Builder {
	b.rateStore = s
	return b
}

// WithRedis supplies the shared cache used for SAML replay records and,
// optionally, rate-limit counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now for every time-dependent component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, fmt.Errorf("%w: user store required", ErrConfiguration)
	}
	if b.tokens == nil {
		return nil, fmt.Errorf("%w: token store required", ErrConfiguration)
	}
	if b.codes == nil {
		return nil, fmt.Errorf("%w: recovery code store required", ErrConfiguration)
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	e := &Engine{
		config:  cfg,
		users:   b.users,
		logger:  logger,
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
	}
	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, now)

	// -------- TOKENS --------
	tm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		MFATTL:        cfg.JWT.MFATTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		e.audit.Close()
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	e.tokens = tm

	theft := ledger.NewTheftResponder(b.tokens, ledger.TheftPolicy{
		Enabled:          cfg.Theft.Enabled,
		InvalidateFamily: cfg.Theft.InvalidateFamily,
		RevokeTimeout:    cfg.Theft.RevokeTimeout,
	}, theftAlerter{engine: e}, logger, now)
	e.ledger = ledger.New(b.tokens, tm, ledger.SubjectLoaderFunc(e.loadSubject), ledger.Options{
		Theft:  theft,
		Logger: logger,
		Now:    now,
	})

	// -------- CREDENTIALS --------
	pv, err := password.NewValidator(password.Config{
		MinLength: cfg.Password.MinLength,
		Argon2: password.Params{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
	})
	if err != nil {
		e.audit.Close()
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	e.passwords = pv

	e.totp = totp.New(totp.Config{
		Issuer: cfg.TOTP.Issuer,
		Period: cfg.TOTP.Period,
		Digits: cfg.TOTP.Digits,
		Window: cfg.TOTP.Window,
	})
	cipher, err := totp.NewCipher(cfg.TOTP.EncryptionSecret)
	if err != nil {
		e.audit.Close()
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	e.cipher = cipher
	e.vault = recovery.NewVault(b.codes, recovery.Config{
		Count:      cfg.RecoveryCodes.Count,
		BcryptCost: cfg.RecoveryCodes.BcryptCost,
	}, now)

	// -------- RATE LIMITS --------
	store := b.rateStore
	switch {
	case store != nil:
	case cfg.RateLimit.Distributed && b.redis != nil:
		store = rate.NewRedisStore(b.redis, cfg.RateLimit.RedisPrefix)
	default:
		if cfg.RateLimit.Distributed {
			logger.Warn("distributed rate limiting requested without a redis client, counters stay per process")
		}
		store = rate.NewMemoryStore(now)
	}
	e.limits = limiters.NewGuard(store, limiters.Config{
		LoginIP:        policyOf(cfg.RateLimit.LoginIP),
		LoginAccount:   policyOf(cfg.RateLimit.LoginAccount),
		TOTPVerify:     policyOf(cfg.RateLimit.TOTPVerify),
		RecoveryVerify: policyOf(cfg.RateLimit.RecoveryVerify),
		TOTPSetup:      policyOf(cfg.RateLimit.TOTPSetup),
	}, now)

	// -------- SAML --------
	if cfg.SAML.Enabled {
		v, err := saml.NewValidator(cfg.SAML.provider())
		if err != nil {
			e.audit.Close()
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		e.samlValidator = v
		if b.redis == nil {
			logger.Warn("saml enabled without redis, assertion replay records are per process")
		}
		e.replay = saml.NewReplayGuard(b.redis, saml.GuardConfig{
			Grace:      cfg.SAML.ReplayGrace,
			DefaultTTL: cfg.SAML.ReplayTTL,
			KeyPrefix:  cfg.SAML.ReplayKeyPrefix,
		}, logger, now)
	}

	b.built = true
	return e, nil
}

func policyOf(p RateLimitPolicy) rate.Policy {
	return rate.Policy{Max: p.Max, Window: p.Window, LockDuration: p.Lock}
}

// NewRedisRateStore returns a rate store shared by every instance using
// client. An empty prefix uses "dmarcauth:".
func NewRedisRateStore(client redis.UniversalClient, prefix string) RateStore {
	return rate.NewRedisStore(client, prefix)
}
