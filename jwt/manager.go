package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWT algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// TokenType is the value of the typ claim.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
	TypeMFA     TokenType = "mfa"
)

var (
	// ErrExpired is returned for tokens past exp (after leeway).
	ErrExpired = errors.New("jwt: token expired")
	// ErrInvalid covers bad signatures, malformed tokens, wrong issuer,
	// audience or typ.
	ErrInvalid = errors.New("jwt: token invalid")
)

// Config defines token lifetimes and keys.
//
// For hs256, PrivateKey is the shared secret. For ed25519, PrivateKey signs
// and PublicKey (or VerifyKeys, by kid) verifies; an empty PublicKey is
// derived from PrivateKey.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MFATTL        time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
	Now           func() time.Time
}

// Subject is the identity embedded in an access token.
type Subject struct {
	UserID   string
	Role     string
	Provider string
	OrgID    string
}

// AccessClaims are carried by access tokens. Subject holds the user id.
type AccessClaims struct {
	Type     TokenType `json:"typ"`
	Role     string    `json:"role,omitempty"`
	Provider string    `json:"prov,omitempty"`
	OrgID    string    `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims bind a refresh token to its ledger row.
type RefreshClaims struct {
	Type    TokenType `json:"typ"`
	TokenID string    `json:"tid"`
	jwt.RegisteredClaims
}

// MFAClaims are carried by the temp token issued when a second factor is
// still required.
type MFAClaims struct {
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Manager signs and parses tokens.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.MFATTL <= 0 {
		cfg.MFATTL = 5 * time.Minute
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case MethodEd25519:
		if _, err := edPrivate(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.VerifyKeys) == 0 {
			if len(cfg.PublicKey) == 0 {
				pub, err := derivePublic(cfg.PrivateKey)
				if err != nil {
					return nil, err
				}
				cfg.PublicKey = pub
			}
			if _, err := edPublic(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := edPublic(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{config: cfg, now: now}, nil
}

// RefreshTTL returns the configured refresh lifetime.
func (m *Manager) RefreshTTL() time.Duration {
	return m.config.RefreshTTL
}

func (m *Manager) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := m.now()
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		Issuer:    m.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if m.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{m.config.Audience}
	}
	return rc
}

// CreateAccess signs an access token for s.
func (m *Manager) CreateAccess(s Subject) (string, error) {
	return m.sign(AccessClaims{
		Type:             TypeAccess,
		Role:             s.Role,
		Provider:         s.Provider,
		OrgID:            s.OrgID,
		RegisteredClaims: m.registered(s.UserID, m.config.AccessTTL),
	})
}

// CreateRefresh signs a refresh token for the ledger row tokenID and
// returns its expiry.
func (m *Manager) CreateRefresh(userID, tokenID string) (string, time.Time, error) {
	rc := m.registered(userID, m.config.RefreshTTL)
	tok, err := m.sign(RefreshClaims{Type: TypeRefresh, TokenID: tokenID, RegisteredClaims: rc})
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, rc.ExpiresAt.Time, nil
}

// CreateMFA signs a short-lived temp token for userID.
func (m *Manager) CreateMFA(userID string) (string, error) {
	return m.sign(MFAClaims{Type: TypeMFA, RegisteredClaims: m.registered(userID, m.config.MFATTL)})
}

// ParseAccess verifies signature, expiry, issuer, audience and typ.
func (m *Manager) ParseAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(token, claims, true); err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess || claims.Subject == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// ParseAccessAllowExpired verifies the signature and typ of an access token
// but ignores its time claims. Refresh uses it to bind the pair.
func (m *Manager) ParseAccessAllowExpired(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(token, claims, false); err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess || claims.Subject == "" {
		return nil, ErrInvalid
	}
	if m.config.Issuer != "" && claims.Issuer != m.config.Issuer {
		return nil, ErrInvalid
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token.
func (m *Manager) ParseRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(token, claims, true); err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh || claims.Subject == "" || claims.TokenID == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// ParseMFA verifies a temp token and returns the user id.
func (m *Manager) ParseMFA(token string) (string, error) {
	claims := &MFAClaims{}
	if err := m.parse(token, claims, true); err != nil {
		return "", err
	}
	if claims.Type != TypeMFA || claims.Subject == "" {
		return "", ErrInvalid
	}
	return claims.Subject, nil
}

func (m *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(m.method(), claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	key, err := m.signKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(key)
}

func (m *Manager) parse(token string, claims jwt.Claims, validateTime bool) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if validateTime {
		opts = append(opts, jwt.WithExpirationRequired())
		if m.config.Leeway > 0 {
			opts = append(opts, jwt.WithLeeway(m.config.Leeway))
		}
		if m.config.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(m.config.Issuer))
		}
		if m.config.Audience != "" {
			opts = append(opts, jwt.WithAudience(m.config.Audience))
		}
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, m.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid {
		return ErrInvalid
	}
	return nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != m.method().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if len(m.config.VerifyKeys) > 0 {
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return m.verifyKey(key)
	}
	if m.config.KeyID != "" && kid != m.config.KeyID {
		return nil, errors.New("unknown kid")
	}
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return m.verifyKey(m.config.PublicKey)
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) signKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return edPrivate(m.config.PrivateKey)
}

func (m *Manager) verifyKey(key []byte) (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return edPublic(key)
}
