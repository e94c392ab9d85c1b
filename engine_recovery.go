package dmarcauth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/MrEthical07/dmarcauth/internal/audit"
	"github.com/MrEthical07/dmarcauth/recovery"
)

// LoginWithRecoveryCode completes a pending second-factor login with a
// one-time recovery code.
func (e *Engine) LoginWithRecoveryCode(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	user, err := e.mfaUser(ctx, tempToken)
	if err != nil {
		return nil, err
	}
	if err := e.limits.CheckRecovery(ctx, user.ID); err != nil {
		return nil, e.limited(ctx, err, user.ID, "")
	}

	if err := e.vault.Consume(ctx, user.ID, code); err != nil {
		var mapped error
		switch {
		case errors.Is(err, recovery.ErrAlreadyUsed):
			mapped = ErrRecoveryCodeAlreadyUsed
		case errors.Is(err, recovery.ErrInvalid):
			mapped = ErrInvalidRecoveryCode
		default:
			return nil, unavailable(err)
		}
		if err := e.limits.RecordRecoveryFailure(ctx, user.ID); err != nil {
			e.logger.WarnContext(ctx, "recovery failure not recorded", slog.String("error", err.Error()))
		}
		e.metricInc(MetricRecoveryCodeFailed)
		e.emit(ctx, AuditEvent{Type: audit.TypeRecoveryFailure, UserID: user.ID}, mapped)
		return nil, mapped
	}
	if err := e.limits.ResetRecovery(ctx, user.ID); err != nil {
		e.logger.WarnContext(ctx, "recovery limiter reset failed", slog.String("error", err.Error()))
	}

	tokens, err := e.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricRecoveryCodeUsed)
	e.emit(ctx, AuditEvent{
		Type:     audit.TypeRecoveryUsed,
		UserID:   user.ID,
		FamilyID: tokens.FamilyID,
		Success:  true,
		Metadata: e.remainingMetadata(ctx, user.ID),
	}, nil)
	return &LoginResult{Tokens: tokens}, nil
}

// GenerateRecoveryCodes replaces the user's recovery codes. A valid TOTP
// code is required.
func (e *Engine) GenerateRecoveryCodes(ctx context.Context, userID, totpCode string) ([]string, error) {
	user, err := e.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.TOTPEnabled {
		return nil, ErrTotpNotEnabled
	}
	if err := e.verifyTOTP(ctx, user, totpCode); err != nil {
		return nil, err
	}

	codes, err := e.vault.GenerateBatch(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	e.metricInc(MetricRecoveryCodesGenerated)
	e.emit(ctx, AuditEvent{
		Type:     audit.TypeRecoveryGenerated,
		UserID:   userID,
		Success:  true,
		Metadata: map[string]string{"count": strconv.Itoa(len(codes))},
	}, nil)
	return codes, nil
}

// RecoveryCodesRemaining counts the user's unused recovery codes.
func (e *Engine) RecoveryCodesRemaining(ctx context.Context, userID string) (int, error) {
	n, err := e.vault.Remaining(ctx, userID)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (e *Engine) remainingMetadata(ctx context.Context, userID string) map[string]string {
	n, err := e.vault.Remaining(ctx, userID)
	if err != nil {
		return nil
	}
	return map[string]string{"remaining": strconv.Itoa(n)}
}
