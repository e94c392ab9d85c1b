package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MrEthical07/dmarcauth"
)

// Users is a dmarcauth.UserStore.
type Users struct {
	db *gorm.DB
}

func NewUsers(db *gorm.DB) *Users {
	return &Users{db: db}
}

// CreateUser inserts u, assigning an id when empty. Email is lowercased.
func (s *Users) CreateUser(ctx context.Context, u *dmarcauth.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Provider == "" {
		u.Provider = dmarcauth.ProviderLocal
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	m := userModel{
		ID:            u.ID,
		Email:         u.Email,
		PasswordHash:  u.PasswordHash,
		Provider:      string(u.Provider),
		Role:          u.Role,
		OrgID:         u.OrgID,
		TOTPSecretEnc: u.TOTPSecretEnc,
		TOTPEnabled:   u.TOTPEnabled,
		TOTPEnabledAt: u.TOTPEnabledAt,
		CreatedAt:     u.CreatedAt,
	}
	if u.TOTPLastUsedAt != nil {
		unix := u.TOTPLastUsedAt.Unix()
		m.TOTPLastUsedUnix = &unix
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *Users) FindUserByEmail(ctx context.Context, email string) (*dmarcauth.User, error) {
	return s.first(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Users) FindUserByID(ctx context.Context, id string) (*dmarcauth.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *Users) first(ctx context.Context, query string, arg any) (*dmarcauth.User, error) {
	var m userModel
	err := s.db.WithContext(ctx).Where(query, arg).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dmarcauth.ErrUserNotFound
		}
		return nil, err
	}
	return m.toUser(), nil
}

func (s *Users) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.update(ctx, userID, map[string]any{"password_hash": hash})
}

func (s *Users) EnableTOTP(ctx context.Context, userID, secretEnc string, enabledAt, lastUsedAt time.Time) error {
	return s.update(ctx, userID, map[string]any{
		"totp_secret_enc":     secretEnc,
		"totp_enabled":        true,
		"totp_enabled_at":     enabledAt,
		"totp_last_used_unix": lastUsedAt.Unix(),
	})
}

func (s *Users) DisableTOTP(ctx context.Context, userID string) error {
	return s.update(ctx, userID, map[string]any{
		"totp_secret_enc":     "",
		"totp_enabled":        false,
		"totp_enabled_at":     nil,
		"totp_last_used_unix": nil,
	})
}

// MarkTOTPUsed claims stepStart when the stored step still equals prev.
func (s *Users) MarkTOTPUsed(ctx context.Context, userID string, prev *time.Time, stepStart time.Time) (bool, error) {
	q := s.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", userID)
	if prev == nil {
		q = q.Where("totp_last_used_unix IS NULL")
	} else {
		q = q.Where("totp_last_used_unix = ?", prev.Unix())
	}

	result := q.Update("totp_last_used_unix", stepStart.Unix())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpsertFederatedUser inserts a federated account for email unless one
// already exists, then returns the stored row.
func (s *Users) UpsertFederatedUser(ctx context.Context, email, role string, at time.Time) (*dmarcauth.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	m := userModel{
		ID:        uuid.NewString(),
		Email:     email,
		Provider:  string(dmarcauth.ProviderFederated),
		Role:      role,
		CreatedAt: at,
		UpdatedAt: at,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(&m).Error
	if err != nil {
		return nil, err
	}
	return s.FindUserByEmail(ctx, email)
}

func (s *Users) update(ctx context.Context, userID string, fields map[string]any) error {
	result := s.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", userID).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return dmarcauth.ErrUserNotFound
	}
	return nil
}
