package dmarcauth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrEthical07/dmarcauth/internal/audit"
	"github.com/MrEthical07/dmarcauth/jwt"
)

// LoginWithTOTP completes a login that returned TOTPRequired.
func (e *Engine) LoginWithTOTP(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	user, err := e.mfaUser(ctx, tempToken)
	if err != nil {
		return nil, err
	}
	if err := e.verifyTOTP(ctx, user, code); err != nil {
		return nil, err
	}

	tokens, err := e.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emit(ctx, AuditEvent{
		Type:     audit.TypeLoginSuccess,
		UserID:   user.ID,
		Email:    user.Email,
		FamilyID: tokens.FamilyID,
		Success:  true,
		Metadata: map[string]string{"factor": "totp"},
	}, nil)
	return &LoginResult{Tokens: tokens}, nil
}

// BeginTOTPSetup generates a secret for the user to scan. Nothing is
// stored until EnableTOTP confirms a code.
func (e *Engine) BeginTOTPSetup(ctx context.Context, userID string) (*TOTPSetup, error) {
	if err := e.limits.AllowTOTPSetup(ctx, userID); err != nil {
		return nil, e.limited(ctx, err, userID, "")
	}
	user, err := e.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TOTPEnabled {
		return nil, ErrTotpAlreadyEnabled
	}

	key, err := e.totp.GenerateSecret(user.Email)
	if err != nil {
		return nil, err
	}
	return &TOTPSetup{Secret: key.Secret, URI: key.URI}, nil
}

// EnableTOTP stores secret once code proves the authenticator holds it and
// returns the first batch of recovery codes. The confirming code's step is
// recorded as used.
func (e *Engine) EnableTOTP(ctx context.Context, userID, secret, code string) ([]string, error) {
	user, err := e.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TOTPEnabled {
		return nil, ErrTotpAlreadyEnabled
	}
	if err := e.limits.CheckTOTP(ctx, userID); err != nil {
		return nil, e.limited(ctx, err, userID, "")
	}

	now := e.now()
	ok, step, err := e.totp.Validate(code, secret, now)
	if err != nil || !ok {
		e.totpFailed(ctx, user.ID, audit.TypeTOTPFailure, MetricTOTPFailure)
		return nil, ErrInvalidTotpCode
	}

	enc, err := e.cipher.Encrypt(secret)
	if err != nil {
		return nil, err
	}
	if err := e.users.EnableTOTP(ctx, userID, enc, now, e.totp.StepStart(step)); err != nil {
		return nil, unavailable(err)
	}
	e.resetTOTPLimit(ctx, userID)

	codes, err := e.vault.GenerateBatch(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	e.metricInc(MetricTOTPEnabled)
	e.emit(ctx, AuditEvent{Type: audit.TypeTOTPEnabled, UserID: userID, Success: true}, nil)
	return codes, nil
}

// DisableTOTP requires the current password and a valid code. Federated
// accounts have no password, so the code alone is the proof. It clears
// the secret and deletes the recovery codes.
func (e *Engine) DisableTOTP(ctx context.Context, userID, password, code string) error {
	user, err := e.user(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TOTPEnabled {
		return ErrTotpNotEnabled
	}
	if user.Provider != ProviderFederated {
		ok, _, err := e.passwords.Verify(password, user.PasswordHash)
		if err != nil || !ok {
			e.emit(ctx, AuditEvent{Type: audit.TypeTOTPDisabled, UserID: userID}, ErrInvalidCredentials)
			return ErrInvalidCredentials
		}
	}
	if err := e.verifyTOTP(ctx, user, code); err != nil {
		return err
	}

	if err := e.users.DisableTOTP(ctx, userID); err != nil {
		return unavailable(err)
	}
	if err := e.vault.InvalidateAll(ctx, userID); err != nil {
		return unavailable(err)
	}
	e.metricInc(MetricTOTPDisabled)
	e.emit(ctx, AuditEvent{Type: audit.TypeTOTPDisabled, UserID: userID, Success: true}, nil)
	return nil
}

// verifyTOTP checks code against the user's stored secret and claims its
// time step. A step at or before the last used one is a replay.
func (e *Engine) verifyTOTP(ctx context.Context, user *User, code string) error {
	if err := e.limits.CheckTOTP(ctx, user.ID); err != nil {
		return e.limited(ctx, err, user.ID, "")
	}

	secret, err := e.cipher.Decrypt(user.TOTPSecretEnc)
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelError, "totp secret undecryptable",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		e.totpFailed(ctx, user.ID, audit.TypeTOTPFailure, MetricTOTPFailure)
		return ErrInvalidTotpCode
	}

	ok, step, err := e.totp.Validate(code, secret, e.now())
	if err != nil || !ok {
		e.totpFailed(ctx, user.ID, audit.TypeTOTPFailure, MetricTOTPFailure)
		return ErrInvalidTotpCode
	}
	if e.totp.IsReplay(user.TOTPLastUsedAt, step) {
		e.totpFailed(ctx, user.ID, audit.TypeTOTPReplay, MetricTOTPReplay)
		return ErrTotpReplay
	}

	won, err := e.users.MarkTOTPUsed(ctx, user.ID, user.TOTPLastUsedAt, e.totp.StepStart(step))
	if err != nil {
		return unavailable(err)
	}
	if !won {
		// A concurrent request claimed a step first.
		e.totpFailed(ctx, user.ID, audit.TypeTOTPReplay, MetricTOTPReplay)
		return ErrTotpReplay
	}

	e.resetTOTPLimit(ctx, user.ID)
	e.metricInc(MetricTOTPSuccess)
	e.emit(ctx, AuditEvent{Type: audit.TypeTOTPSuccess, UserID: user.ID, Success: true}, nil)
	return nil
}

func (e *Engine) totpFailed(ctx context.Context, userID, eventType string, metric MetricID) {
	if err := e.limits.RecordTOTPFailure(ctx, userID); err != nil {
		e.logger.WarnContext(ctx, "totp failure not recorded", slog.String("error", err.Error()))
	}
	e.metricInc(metric)
	e.emit(ctx, AuditEvent{Type: eventType, UserID: userID}, ErrInvalidTotpCode)
}

func (e *Engine) resetTOTPLimit(ctx context.Context, userID string) {
	if err := e.limits.ResetTOTP(ctx, userID); err != nil {
		e.logger.WarnContext(ctx, "totp limiter reset failed", slog.String("error", err.Error()))
	}
}

// mfaUser resolves the temp token of a pending second-factor login.
func (e *Engine) mfaUser(ctx context.Context, tempToken string) (*User, error) {
	userID, err := e.tokens.ParseMFA(tempToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, unavailable(err)
	}
	if !user.TOTPEnabled {
		return nil, ErrInvalidToken
	}
	return user, nil
}

func (e *Engine) user(ctx context.Context, userID string) (*User, error) {
	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, unavailable(err)
	}
	return user, nil
}
