package dmarcauth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/dmarcauth/internal/audit"
	"github.com/MrEthical07/dmarcauth/saml"
)

// LoginWithSAML signs in the subject of a verified assertion profile.
// The profile is checked against the SP/IdP settings, rejected if its
// assertion was already consumed, and matched to a user by email; unknown
// emails get a federated account.
func (e *Engine) LoginWithSAML(ctx context.Context, profile saml.Profile) (*LoginResult, error) {
	if e.samlValidator == nil {
		return nil, fmt.Errorf("%w: saml is not enabled", ErrConfiguration)
	}

	now := e.now()
	email, err := e.samlValidator.Validate(profile, now)
	if err != nil {
		e.metricInc(MetricSAMLLoginFailure)
		e.emit(ctx, AuditEvent{
			Type:     audit.TypeSAMLLogin,
			Metadata: map[string]string{"issuer": profile.Issuer, "reason": err.Error()},
		}, ErrSamlAssertionInvalid)
		return nil, fmt.Errorf("%w: %v", ErrSamlAssertionInvalid, err)
	}

	id := saml.AssertionID(profile)
	if e.replay.CheckReplay(ctx, id) {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "saml assertion replay",
			slog.String("assertion_id", id),
			slog.String("email", email),
		)
		e.metricInc(MetricSAMLReplay)
		e.emit(ctx, AuditEvent{
			Type:     audit.TypeSAMLReplay,
			Email:    email,
			Metadata: map[string]string{"assertion_id": id, "issuer": profile.Issuer},
		}, ErrSamlReplay)
		return nil, ErrSamlReplay
	}
	e.replay.MarkProcessed(ctx, id, profile.NotOnOrAfter)

	user, err := e.users.UpsertFederatedUser(ctx, email, e.config.SAML.DefaultRole, now)
	if err != nil {
		return nil, unavailable(err)
	}
	tokens, err := e.issue(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSAMLLoginSuccess)
	e.emit(ctx, AuditEvent{
		Type:     audit.TypeSAMLLogin,
		UserID:   user.ID,
		Email:    email,
		FamilyID: tokens.FamilyID,
		Success:  true,
	}, nil)
	return &LoginResult{Tokens: tokens}, nil
}
