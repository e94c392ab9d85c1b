package gormstore

import (
	"time"

	"github.com/MrEthical07/dmarcauth"
	"github.com/MrEthical07/dmarcauth/ledger"
	"github.com/MrEthical07/dmarcauth/recovery"
)

type userModel struct {
	ID               string `gorm:"primaryKey;size:36"`
	Email            string `gorm:"uniqueIndex;size:320;not null"`
	PasswordHash     string
	Provider         string     `gorm:"size:16;not null"`
	Role             string     `gorm:"size:64"`
	OrgID            string     `gorm:"size:64;index"`
	TOTPSecretEnc    string     `gorm:"column:totp_secret_enc"`
	TOTPEnabled      bool       `gorm:"column:totp_enabled;not null;default:false"`
	TOTPEnabledAt    *time.Time `gorm:"column:totp_enabled_at"`
	TOTPLastUsedUnix *int64     `gorm:"column:totp_last_used_unix"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (userModel) TableName() string { return "users" }

func (m userModel) toUser() *dmarcauth.User {
	u := &dmarcauth.User{
		ID:            m.ID,
		Email:         m.Email,
		PasswordHash:  m.PasswordHash,
		Provider:      dmarcauth.Provider(m.Provider),
		Role:          m.Role,
		OrgID:         m.OrgID,
		TOTPSecretEnc: m.TOTPSecretEnc,
		TOTPEnabled:   m.TOTPEnabled,
		TOTPEnabledAt: m.TOTPEnabledAt,
		CreatedAt:     m.CreatedAt,
	}
	if m.TOTPLastUsedUnix != nil {
		t := time.Unix(*m.TOTPLastUsedUnix, 0).UTC()
		u.TOTPLastUsedAt = &t
	}
	return u
}

type refreshTokenModel struct {
	ID            string    `gorm:"primaryKey;size:36"`
	UserID        string    `gorm:"size:36;index;not null"`
	FamilyID      string    `gorm:"size:36;index;not null"`
	TokenHash     string    `gorm:"size:64;not null"`
	ExpiresAt     time.Time `gorm:"not null"`
	Revoked       bool      `gorm:"not null;default:false"`
	RevokedReason string    `gorm:"size:32"`
	RevokedAt     *time.Time
	CreatedAt     time.Time
}

func (refreshTokenModel) TableName() string { return "refresh_tokens" }

func refreshTokenFrom(t *ledger.RefreshToken) refreshTokenModel {
	return refreshTokenModel{
		ID:            t.ID,
		UserID:        t.UserID,
		FamilyID:      t.FamilyID,
		TokenHash:     t.TokenHash,
		ExpiresAt:     t.ExpiresAt,
		Revoked:       t.Revoked,
		RevokedReason: string(t.RevokedReason),
		RevokedAt:     t.RevokedAt,
		CreatedAt:     t.CreatedAt,
	}
}

func (m refreshTokenModel) toToken() ledger.RefreshToken {
	return ledger.RefreshToken{
		ID:            m.ID,
		UserID:        m.UserID,
		FamilyID:      m.FamilyID,
		TokenHash:     m.TokenHash,
		ExpiresAt:     m.ExpiresAt,
		Revoked:       m.Revoked,
		RevokedReason: ledger.RevocationReason(m.RevokedReason),
		RevokedAt:     m.RevokedAt,
		CreatedAt:     m.CreatedAt,
	}
}

type recoveryCodeModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"size:36;index;not null"`
	CodeHash  string `gorm:"not null"`
	Used      bool   `gorm:"not null;default:false"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (recoveryCodeModel) TableName() string { return "recovery_codes" }

func (m recoveryCodeModel) toCode() recovery.Code {
	return recovery.Code{
		ID:        m.ID,
		UserID:    m.UserID,
		CodeHash:  m.CodeHash,
		Used:      m.Used,
		UsedAt:    m.UsedAt,
		CreatedAt: m.CreatedAt,
	}
}
