package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/MrEthical07/dmarcauth/ledger"
)

// RefreshTokens is a ledger.Store.
type RefreshTokens struct {
	db *gorm.DB
}

func NewRefreshTokens(db *gorm.DB) *RefreshTokens {
	return &RefreshTokens{db: db}
}

func (s *RefreshTokens) Create(ctx context.Context, t *ledger.RefreshToken) error {
	m := refreshTokenFrom(t)
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *RefreshTokens) FindByIDAndHash(ctx context.Context, id, hash string) (*ledger.RefreshToken, error) {
	return s.first(ctx, "id = ? AND token_hash = ?", id, hash)
}

func (s *RefreshTokens) FindByID(ctx context.Context, id string) (*ledger.RefreshToken, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *RefreshTokens) first(ctx context.Context, query string, args ...any) (*ledger.RefreshToken, error) {
	var m refreshTokenModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	t := m.toToken()
	return &t, nil
}

// RevokeIfActive flips one row from active to revoked. Only the caller
// whose UPDATE matched gets true.
func (s *RefreshTokens) RevokeIfActive(ctx context.Context, id string, reason ledger.RevocationReason, at time.Time) (bool, error) {
	n, err := s.revoke(ctx, reason, at, "id = ?", id)
	return n == 1, err
}

func (s *RefreshTokens) RevokeFamily(ctx context.Context, familyID string, reason ledger.RevocationReason, at time.Time) (int64, error) {
	return s.revoke(ctx, reason, at, "family_id = ?", familyID)
}

func (s *RefreshTokens) RevokeUser(ctx context.Context, userID string, reason ledger.RevocationReason, at time.Time) (int64, error) {
	return s.revoke(ctx, reason, at, "user_id = ?", userID)
}

func (s *RefreshTokens) revoke(ctx context.Context, reason ledger.RevocationReason, at time.Time, query string, args ...any) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&refreshTokenModel{}).
		Where(query, args...).
		Where("revoked = ?", false).
		Updates(map[string]any{
			"revoked":        true,
			"revoked_reason": string(reason),
			"revoked_at":     at,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (s *RefreshTokens) ListFamily(ctx context.Context, familyID string) ([]ledger.RefreshToken, error) {
	var rows []refreshTokenModel
	err := s.db.WithContext(ctx).
		Where("family_id = ?", familyID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]ledger.RefreshToken, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toToken())
	}
	return out, nil
}
