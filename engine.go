package dmarcauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

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

// Engine runs the authentication flows. Build one with New().Build().
type Engine struct {
	config        Config
	users         UserStore
	ledger        *ledger.Ledger
	tokens        *jwt.Manager
	passwords     *password.Validator
	totp          *totp.Engine
	cipher        *totp.Cipher
	vault         *recovery.Vault
	limits        *limiters.Guard
	samlValidator *saml.Validator
	replay        *saml.ReplayGuard
	audit         *audit.Dispatcher
	metrics       *Metrics
	logger        *slog.Logger
	now           func() time.Time
}

// Close drains the audit pipeline. It is safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped returns how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login checks email and password. Accounts with TOTP enabled get a
// short-lived temp token instead of a session.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = normalizeEmail(email)
	ip := ClientIPFromContext(ctx)

	if err := e.limits.CheckLogin(ctx, ip, email); err != nil {
		e.metricInc(MetricLoginRateLimited)
		return nil, e.limited(ctx, err, "", email)
	}

	user, err := e.users.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, unavailable(err)
		}
		e.passwords.Burn(password)
		return nil, e.loginFailed(ctx, ip, email, "")
	}
	if user.Provider == ProviderFederated {
		e.passwords.Burn(password)
		return nil, e.loginFailed(ctx, ip, email, user.ID)
	}

	ok, rehash, err := e.passwords.Verify(password, user.PasswordHash)
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelError, "stored password hash unreadable",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
	if !ok {
		return nil, e.loginFailed(ctx, ip, email, user.ID)
	}

	if err := e.limits.LoginSucceeded(ctx, email); err != nil {
		e.logger.WarnContext(ctx, "login limiter reset failed", slog.String("error", err.Error()))
	}
	if rehash && e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, user.ID, password)
	}

	if user.TOTPEnabled {
		temp, err := e.tokens.CreateMFA(user.ID)
		if err != nil {
			return nil, fmt.Errorf("dmarcauth: sign mfa token: %w", err)
		}
		e.metricInc(MetricLoginMFARequired)
		e.emit(ctx, AuditEvent{Type: audit.TypeLoginMFARequired, UserID: user.ID, Email: email, Success: true}, nil)
		return &LoginResult{TOTPRequired: true, TempToken: temp}, nil
	}

	tokens, err := e.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emit(ctx, AuditEvent{Type: audit.TypeLoginSuccess, UserID: user.ID, Email: email, FamilyID: tokens.FamilyID, Success: true}, nil)
	return &LoginResult{Tokens: tokens}, nil
}

func (e *Engine) loginFailed(ctx context.Context, ip, email, userID string) error {
	if err := e.limits.RecordLoginFailure(ctx, ip, email); err != nil {
		e.logger.WarnContext(ctx, "login failure not recorded", slog.String("error", err.Error()))
	}
	e.metricInc(MetricLoginFailure)
	e.emit(ctx, AuditEvent{Type: audit.TypeLoginFailure, UserID: userID, Email: email}, ErrInvalidCredentials)
	return ErrInvalidCredentials
}

func (e *Engine) upgradePasswordHash(ctx context.Context, userID, password string) {
	hash, err := e.passwords.Hash(password)
	if err == nil {
		err = e.users.UpdatePasswordHash(ctx, userID, hash)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "password rehash failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// Refresh rotates refreshToken. accessToken is the access token issued
// with it and may be expired. Reuse of a revoked refresh token returns
// ErrSessionCompromised.
func (e *Engine) Refresh(ctx context.Context, refreshToken, accessToken string) (Tokens, error) {
	start := time.Now()
	pair, err := e.ledger.Rotate(ctx, refreshToken, accessToken, ClientIPFromContext(ctx))
	e.metrics.Observe(MetricRefreshLatency, time.Since(start))
	if err != nil {
		mapped := mapLedgerError(err)
		e.metricInc(MetricRefreshFailure)
		e.emit(ctx, AuditEvent{Type: audit.TypeRefreshRejected}, mapped)
		return Tokens{}, mapped
	}

	e.metricInc(MetricRefreshSuccess)
	e.emit(ctx, AuditEvent{Type: audit.TypeRefreshRotated, FamilyID: pair.FamilyID, Success: true}, nil)
	return tokensOf(pair), nil
}

// Logout revokes refreshToken when it belongs to userID. It never fails.
func (e *Engine) Logout(ctx context.Context, userID, refreshToken string) {
	e.ledger.Logout(ctx, userID, refreshToken)
	e.metricInc(MetricLogout)
	e.emit(ctx, AuditEvent{Type: audit.TypeLogout, UserID: userID, Success: true}, nil)
}

// ChangePassword replaces the password of a local account and revokes
// every session of the user.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.passwords.Burn(oldPassword)
			return e.passwordChangeFailed(ctx, userID, ErrInvalidCredentials)
		}
		return unavailable(err)
	}
	if user.Provider == ProviderFederated {
		e.passwords.Burn(oldPassword)
		return e.passwordChangeFailed(ctx, userID, ErrInvalidCredentials)
	}

	ok, _, err := e.passwords.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		return e.passwordChangeFailed(ctx, userID, ErrInvalidCredentials)
	}
	if err := e.passwords.CheckPolicy(newPassword); err != nil {
		return e.passwordChangeFailed(ctx, userID, fmt.Errorf("%w: %v", ErrPasswordPolicy, err))
	}

	hash, err := e.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("dmarcauth: hash password: %w", err)
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return unavailable(err)
	}

	revoked, err := e.ledger.RevokeAllForUser(ctx, userID, ledger.ReasonPasswordChange)
	if err != nil {
		return unavailable(err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emit(ctx, AuditEvent{
		Type:     audit.TypePasswordChanged,
		UserID:   userID,
		Success:  true,
		Metadata: map[string]string{"sessions_revoked": fmt.Sprint(revoked)},
	}, nil)
	return nil
}

func (e *Engine) passwordChangeFailed(ctx context.Context, userID string, err error) error {
	e.metricInc(MetricPasswordChangeFailure)
	e.emit(ctx, AuditEvent{Type: audit.TypePasswordChanged, UserID: userID}, err)
	return err
}

// ValidateAccess verifies an access token and returns its subject.
func (e *Engine) ValidateAccess(token string) (jwt.Subject, error) {
	claims, err := e.tokens.ParseAccess(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return jwt.Subject{}, ErrExpiredToken
		}
		return jwt.Subject{}, ErrInvalidToken
	}
	return jwt.Subject{
		UserID:   claims.Subject,
		Role:     claims.Role,
		Provider: claims.Provider,
		OrgID:    claims.OrgID,
	}, nil
}

// TokenFamily lists every refresh token of a family, oldest first, for
// forensic review.
func (e *Engine) TokenFamily(ctx context.Context, familyID string) ([]ledger.RefreshToken, error) {
	rows, err := e.ledger.Family(ctx, familyID)
	if err != nil {
		return nil, unavailable(err)
	}
	return rows, nil
}

func (e *Engine) issue(ctx context.Context, user *User) (Tokens, error) {
	pair, err := e.ledger.Issue(ctx, subjectOf(user))
	if err != nil {
		return Tokens{}, unavailable(err)
	}
	return tokensOf(pair), nil
}

func (e *Engine) loadSubject(ctx context.Context, userID string) (jwt.Subject, error) {
	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		return jwt.Subject{}, err
	}
	return subjectOf(user), nil
}

// limited converts a limiter error. Store failures fail closed.
func (e *Engine) limited(ctx context.Context, err error, userID, email string) error {
	var le *rate.LimitError
	if errors.As(err, &le) {
		e.metricInc(MetricRateLimitHit)
		e.emit(ctx, AuditEvent{
			Type:     audit.TypeRateLimited,
			UserID:   userID,
			Email:    email,
			Metadata: map[string]string{"dimension": le.Dimension},
		}, ErrRateLimited)
		return &RateLimitError{Dimension: le.Dimension, RetryAfter: le.RetryAfter}
	}
	e.logger.LogAttrs(ctx, slog.LevelError, "rate limit store failure", slog.String("error", err.Error()))
	return unavailable(err)
}

func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrSessionCompromised):
		return ErrSessionCompromised
	case errors.Is(err, ledger.ErrExpiredToken):
		return ErrExpiredToken
	case errors.Is(err, ledger.ErrInvalidToken):
		return ErrInvalidToken
	default:
		return unavailable(err)
	}
}

func subjectOf(u *User) jwt.Subject {
	provider := u.Provider
	if provider == "" {
		provider = ProviderLocal
	}
	return jwt.Subject{UserID: u.ID, Role: u.Role, Provider: string(provider), OrgID: u.OrgID}
}

func tokensOf(p ledger.Pair) Tokens {
	return Tokens{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		FamilyID:         p.FamilyID,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashPassword checks newPassword against the password policy and hashes
// it for storage. Account provisioning uses it.
func (e *Engine) HashPassword(newPassword string) (string, error) {
	if err := e.passwords.CheckPolicy(newPassword); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	return e.passwords.Hash(newPassword)
}
