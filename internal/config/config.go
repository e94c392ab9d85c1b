// Package config loads process configuration for the dmarcauth server from
// a YAML file and DMARCAUTH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MrEthical07/dmarcauth"
)

type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	SigningMethod  string        `mapstructure:"signing_method"`
	PrivateKey     string        `mapstructure:"private_key"`
	PrivateKeyFile string        `mapstructure:"private_key_file"`
	PublicKey      string        `mapstructure:"public_key"`
	PublicKeyFile  string        `mapstructure:"public_key_file"`
	Issuer         string        `mapstructure:"issuer"`
	Audience       string        `mapstructure:"audience"`
	AccessTTL      time.Duration `mapstructure:"access_ttl"`
	RefreshTTL     time.Duration `mapstructure:"refresh_ttl"`
	MFATTL         time.Duration `mapstructure:"mfa_ttl"`
}

type TOTPConfig struct {
	Issuer           string `mapstructure:"issuer"`
	EncryptionSecret string `mapstructure:"encryption_secret"`
}

type SAMLConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	SPEntityID     string   `mapstructure:"sp_entity_id"`
	ACSURL         string   `mapstructure:"acs_url"`
	IdPEntityID    string   `mapstructure:"idp_entity_id"`
	IdPSSOURL      string   `mapstructure:"idp_sso_url"`
	IdPCertFile    string   `mapstructure:"idp_cert_file"`
	AllowedDomains []string `mapstructure:"allowed_domains"`
	DefaultRole    string   `mapstructure:"default_role"`
}

type AuthConfig struct {
	JWT                  JWTConfig  `mapstructure:"jwt"`
	TOTP                 TOTPConfig `mapstructure:"totp"`
	SAML                 SAMLConfig `mapstructure:"saml"`
	PasswordMinLength    int        `mapstructure:"password_min_length"`
	DistributedRateLimit bool       `mapstructure:"distributed_rate_limit"`
	AuditBufferSize      int        `mapstructure:"audit_buffer_size"`
}

// Config is the full process configuration.
type Config struct {
	ServiceName string         `mapstructure:"service_name"`
	Env         string         `mapstructure:"env"`
	LogLevel    string         `mapstructure:"log_level"`
	MetricsPath string         `mapstructure:"metrics_path"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Auth        AuthConfig     `mapstructure:"auth"`
}

// Load reads path (if it exists) and overlays DMARCAUTH_* environment
// variables, e.g. DMARCAUTH_AUTH_JWT_ISSUER for auth.jwt.issuer.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DMARCAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Every key needs a default so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "dmarcauth")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_path", "/metrics")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "15s")
	v.SetDefault("http.cors_origins", []string{})

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt.signing_method", "ed25519")
	v.SetDefault("auth.jwt.private_key", "")
	v.SetDefault("auth.jwt.private_key_file", "")
	v.SetDefault("auth.jwt.public_key", "")
	v.SetDefault("auth.jwt.public_key_file", "")
	v.SetDefault("auth.jwt.issuer", "dmarcauth")
	v.SetDefault("auth.jwt.audience", "")
	v.SetDefault("auth.jwt.access_ttl", "15m")
	v.SetDefault("auth.jwt.refresh_ttl", "168h")
	v.SetDefault("auth.jwt.mfa_ttl", "5m")

	v.SetDefault("auth.totp.issuer", "DMARC Analyzer")
	v.SetDefault("auth.totp.encryption_secret", "")

	v.SetDefault("auth.saml.enabled", false)
	v.SetDefault("auth.saml.sp_entity_id", "")
	v.SetDefault("auth.saml.acs_url", "")
	v.SetDefault("auth.saml.idp_entity_id", "")
	v.SetDefault("auth.saml.idp_sso_url", "")
	v.SetDefault("auth.saml.idp_cert_file", "")
	v.SetDefault("auth.saml.allowed_domains", []string{})
	v.SetDefault("auth.saml.default_role", "viewer")

	v.SetDefault("auth.password_min_length", 8)
	v.SetDefault("auth.distributed_rate_limit", false)
	v.SetDefault("auth.audit_buffer_size", 1024)
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// ToEngineConfig overlays the auth settings on dmarcauth.DefaultConfig.
// Key and certificate files are read here.
func (c *Config) ToEngineConfig() (dmarcauth.Config, error) {
	out := dmarcauth.DefaultConfig()
	a := c.Auth

	out.JWT.SigningMethod = a.JWT.SigningMethod
	out.JWT.Issuer = a.JWT.Issuer
	out.JWT.Audience = a.JWT.Audience
	out.JWT.AccessTTL = a.JWT.AccessTTL
	out.JWT.RefreshTTL = a.JWT.RefreshTTL
	out.JWT.MFATTL = a.JWT.MFATTL

	priv, err := inlineOrFile(a.JWT.PrivateKey, a.JWT.PrivateKeyFile)
	if err != nil {
		return out, fmt.Errorf("jwt private key: %w", err)
	}
	pub, err := inlineOrFile(a.JWT.PublicKey, a.JWT.PublicKeyFile)
	if err != nil {
		return out, fmt.Errorf("jwt public key: %w", err)
	}
	out.JWT.PrivateKey = priv
	out.JWT.PublicKey = pub

	out.TOTP.Issuer = a.TOTP.Issuer
	out.TOTP.EncryptionSecret = a.TOTP.EncryptionSecret
	if a.PasswordMinLength > 0 {
		out.Password.MinLength = a.PasswordMinLength
	}
	out.RateLimit.Distributed = a.DistributedRateLimit
	if a.AuditBufferSize > 0 {
		out.Audit.BufferSize = a.AuditBufferSize
	}

	if a.SAML.Enabled {
		cert, err := inlineOrFile("", a.SAML.IdPCertFile)
		if err != nil {
			return out, fmt.Errorf("saml idp certificate: %w", err)
		}
		out.SAML.Enabled = true
		out.SAML.SPEntityID = a.SAML.SPEntityID
		out.SAML.ACSURL = a.SAML.ACSURL
		out.SAML.IdPEntityID = a.SAML.IdPEntityID
		out.SAML.IdPSSOURL = a.SAML.IdPSSOURL
		out.SAML.IdPCertPEM = string(cert)
		out.SAML.AllowedDomains = a.SAML.AllowedDomains
		out.SAML.DefaultRole = a.SAML.DefaultRole
	}
	return out, nil
}

func inlineOrFile(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}
