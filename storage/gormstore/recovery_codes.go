package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/MrEthical07/dmarcauth/recovery"
)

// RecoveryCodes is a recovery.Store.
type RecoveryCodes struct {
	db *gorm.DB
}

func NewRecoveryCodes(db *gorm.DB) *RecoveryCodes {
	return &RecoveryCodes{db: db}
}

// ReplaceForUser swaps the user's batch in one transaction.
func (s *RecoveryCodes) ReplaceForUser(ctx context.Context, userID string, codes []recovery.Code) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&recoveryCodeModel{}).Error; err != nil {
			return err
		}
		if len(codes) == 0 {
			return nil
		}
		rows := make([]recoveryCodeModel, 0, len(codes))
		for _, c := range codes {
			rows = append(rows, recoveryCodeModel{
				ID:        c.ID,
				UserID:    userID,
				CodeHash:  c.CodeHash,
				Used:      c.Used,
				UsedAt:    c.UsedAt,
				CreatedAt: c.CreatedAt,
			})
		}
		return tx.Create(&rows).Error
	})
}

func (s *RecoveryCodes) ListByUser(ctx context.Context, userID string) ([]recovery.Code, error) {
	var rows []recoveryCodeModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]recovery.Code, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toCode())
	}
	return out, nil
}

func (s *RecoveryCodes) MarkUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&recoveryCodeModel{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]any{"used": true, "used_at": at})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *RecoveryCodes) DeleteByUser(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&recoveryCodeModel{}).Error
}
