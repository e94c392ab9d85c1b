package ledger

import (
	"context"
	"log/slog"
	"time"
)

const defaultRevokeTimeout = 3 * time.Second

// TheftPolicy gates the response to refresh-token reuse.
type TheftPolicy struct {
	Enabled          bool
	InvalidateFamily bool
	RevokeTimeout    time.Duration
}

// Alert describes one detected reuse.
type Alert struct {
	UserID         string
	FamilyID       string
	TokenID        string
	OriginalReason RevocationReason
	ClientIP       string
	DetectedAt     time.Time
	FamilyRevoked  int64
	RevokeFailed   bool
}

// Alerter receives theft alerts. Implementations must not block. The alert
// is the operator-facing record; the responder itself only logs at debug,
// plus an error when family revocation fails.
type Alerter interface {
	TheftDetected(ctx context.Context, alert Alert)
}

// TheftResponder logs reuse and, when allowed, severs the token family.
type TheftResponder struct {
	store   Store
	policy  TheftPolicy
	alerter Alerter
	logger  *slog.Logger
	now     func() time.Time
}

// NewTheftResponder builds a responder. alerter and logger may be nil.
func NewTheftResponder(store Store, policy TheftPolicy, alerter Alerter, logger *slog.Logger, now func() time.Time) *TheftResponder {
	if policy.RevokeTimeout <= 0 {
		policy.RevokeTimeout = defaultRevokeTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if now == nil {
		now = time.Now
	}
	return &TheftResponder{store: store, policy: policy, alerter: alerter, logger: logger, now: now}
}

// Respond handles reuse of row, which is already revoked. It never returns
// an error: the caller rejects the request regardless of what happens here.
//
// Family revocation runs under its own deadline and is detached from the
// request's cancellation, so a client hanging up cannot stop containment.
func (r *TheftResponder) Respond(ctx context.Context, row RefreshToken, clientIP string) {
	if r == nil || !r.policy.Enabled {
		return
	}

	alert := Alert{
		UserID:         row.UserID,
		FamilyID:       row.FamilyID,
		TokenID:        row.ID,
		OriginalReason: row.RevokedReason,
		ClientIP:       clientIP,
		DetectedAt:     r.now(),
	}
	r.logger.LogAttrs(ctx, slog.LevelDebug, "refresh token reuse detected",
		slog.String("user_id", alert.UserID),
		slog.String("family_id", alert.FamilyID),
		slog.String("token_id", alert.TokenID),
		slog.String("original_reason", string(alert.OriginalReason)),
		slog.String("client_ip", alert.ClientIP),
		slog.Time("detected_at", alert.DetectedAt),
	)

	if r.policy.InvalidateFamily {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.policy.RevokeTimeout)
		n, err := r.store.RevokeFamily(rctx, row.FamilyID, ReasonTheftDetected, r.now())
		cancel()
		if err != nil {
			alert.RevokeFailed = true
			r.logger.LogAttrs(ctx, slog.LevelError, "token family revocation failed",
				slog.String("family_id", row.FamilyID),
				slog.String("error", err.Error()),
			)
		} else {
			alert.FamilyRevoked = n
			r.logger.LogAttrs(ctx, slog.LevelDebug, "token family revoked",
				slog.String("family_id", row.FamilyID),
				slog.Int64("revoked", n),
			)
		}
	}

	if r.alerter != nil {
		r.alerter.TheftDetected(ctx, alert)
	}
}
