package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/dmarcauth/internal"
	"github.com/MrEthical07/dmarcauth/jwt"
)

var (
	// ErrInvalidToken covers malformed, unknown and mismatched tokens.
	ErrInvalidToken = errors.New("ledger: invalid token")
	// ErrExpiredToken is natural expiry. It never raises a theft signal.
	ErrExpiredToken = errors.New("ledger: token expired")
	// ErrSessionCompromised is returned when a revoked token is reused.
	ErrSessionCompromised = errors.New("ledger: session compromised")
	// ErrStore wraps store failures on the rotation path.
	ErrStore = errors.New("ledger: store failure")
)

// SubjectLoader resolves the current access-token identity of a user.
type SubjectLoader interface {
	LoadSubject(ctx context.Context, userID string) (jwt.Subject, error)
}

// SubjectLoaderFunc adapts a function to SubjectLoader.
type SubjectLoaderFunc func(ctx context.Context, userID string) (jwt.Subject, error)

func (f SubjectLoaderFunc) LoadSubject(ctx context.Context, userID string) (jwt.Subject, error) {
	return f(ctx, userID)
}

// Ledger is the refresh-token authority.
type Ledger struct {
	store    Store
	tokens   *jwt.Manager
	subjects SubjectLoader
	theft    *TheftResponder
	logger   *slog.Logger
	now      func() time.Time
}

// Options carries the optional collaborators of a Ledger.
type Options struct {
	Theft  *TheftResponder
	Logger *slog.Logger
	Now    func() time.Time
}

// New creates a Ledger.
func New(store Store, tokens *jwt.Manager, subjects SubjectLoader, opts Options) *Ledger {
	l := &Ledger{
		store:    store,
		tokens:   tokens,
		subjects: subjects,
		theft:    opts.Theft,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Issue starts a new token family for subject.
func (l *Ledger) Issue(ctx context.Context, subject jwt.Subject) (Pair, error) {
	return l.mint(ctx, subject, uuid.NewString())
}

// Rotate exchanges a live refresh token for a new pair in the same family.
// accessToken may be expired but must carry the same subject.
func (l *Ledger) Rotate(ctx context.Context, refreshToken, accessToken, clientIP string) (Pair, error) {
	rc, err := l.tokens.ParseRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return Pair{}, ErrExpiredToken
		}
		return Pair{}, ErrInvalidToken
	}
	ac, err := l.tokens.ParseAccessAllowExpired(accessToken)
	if err != nil || ac.Subject != rc.Subject {
		return Pair{}, ErrInvalidToken
	}

	row, err := l.store.FindByIDAndHash(ctx, rc.TokenID, internal.SHA256Hex(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Pair{}, ErrInvalidToken
		}
		return Pair{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if row.UserID != rc.Subject {
		return Pair{}, ErrInvalidToken
	}

	now := l.now()
	if !now.Before(row.ExpiresAt) {
		return Pair{}, ErrExpiredToken
	}
	if row.Revoked {
		l.theft.Respond(ctx, *row, clientIP)
		return Pair{}, ErrSessionCompromised
	}

	subject, err := l.subjects.LoadSubject(ctx, row.UserID)
	if err != nil {
		return Pair{}, ErrInvalidToken
	}

	// The successor row exists before the predecessor is revoked. Any request
	// that observes the predecessor revoked therefore also observes the
	// successor, and the family revocation it triggers covers it.
	next, err := l.mint(ctx, subject, row.FamilyID)
	if err != nil {
		return Pair{}, err
	}

	won, err := l.store.RevokeIfActive(ctx, row.ID, ReasonRotation, now)
	if err != nil {
		l.discard(ctx, next.TokenID, ReasonRotation)
		return Pair{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if !won {
		// Lost the race: another request revoked the row after our read.
		l.discard(ctx, next.TokenID, ReasonTheftDetected)
		if reloaded, err := l.store.FindByID(ctx, row.ID); err == nil {
			row = reloaded
		}
		l.theft.Respond(ctx, *row, clientIP)
		return Pair{}, ErrSessionCompromised
	}
	return next, nil
}

// discard revokes a successor that was never handed out.
func (l *Ledger) discard(ctx context.Context, id string, reason RevocationReason) {
	if _, err := l.store.RevokeIfActive(context.WithoutCancel(ctx), id, reason, l.now()); err != nil {
		l.logger.LogAttrs(ctx, slog.LevelWarn, "discard unused refresh token failed",
			slog.String("token_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Logout revokes refreshToken if it belongs to userID. It never fails: an
// unknown, foreign, expired or already revoked token is a silent no-op.
func (l *Ledger) Logout(ctx context.Context, userID, refreshToken string) {
	rc, err := l.tokens.ParseRefresh(refreshToken)
	if err != nil || rc.Subject != userID {
		return
	}
	row, err := l.store.FindByIDAndHash(ctx, rc.TokenID, internal.SHA256Hex(refreshToken))
	if err != nil || row.UserID != userID {
		return
	}
	if _, err := l.store.RevokeIfActive(ctx, row.ID, ReasonLogout, l.now()); err != nil {
		l.logger.LogAttrs(ctx, slog.LevelWarn, "logout revoke failed",
			slog.String("user_id", userID),
			slog.String("token_id", row.ID),
			slog.String("error", err.Error()),
		)
	}
}

// RevokeAllForUser revokes every live token of userID, across families.
func (l *Ledger) RevokeAllForUser(ctx context.Context, userID string, reason RevocationReason) (int64, error) {
	n, err := l.store.RevokeUser(ctx, userID, reason, l.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return n, nil
}

// Family lists the rows of a family, oldest first.
func (l *Ledger) Family(ctx context.Context, familyID string) ([]RefreshToken, error) {
	rows, err := l.store.ListFamily(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return rows, nil
}

func (l *Ledger) mint(ctx context.Context, subject jwt.Subject, familyID string) (Pair, error) {
	id := uuid.NewString()
	refresh, expiresAt, err := l.tokens.CreateRefresh(subject.UserID, id)
	if err != nil {
		return Pair{}, fmt.Errorf("ledger: sign refresh: %w", err)
	}
	access, err := l.tokens.CreateAccess(subject)
	if err != nil {
		return Pair{}, fmt.Errorf("ledger: sign access: %w", err)
	}

	row := &RefreshToken{
		ID:        id,
		UserID:    subject.UserID,
		FamilyID:  familyID,
		TokenHash: internal.SHA256Hex(refresh),
		ExpiresAt: expiresAt,
		CreatedAt: l.now(),
	}
	if err := l.store.Create(ctx, row); err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrStore, err)
	}

	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		FamilyID:         familyID,
		TokenID:          id,
		RefreshExpiresAt: expiresAt,
	}, nil
}
