package gormstore

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MrEthical07/dmarcauth"
	"github.com/MrEthical07/dmarcauth/ledger"
	"github.com/MrEthical07/dmarcauth/recovery"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "auth.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))
	return db
}

func TestUsersCRUD(t *testing.T) {
	ctx := context.Background()
	users := NewUsers(openTestDB(t))

	u := &dmarcauth.User{Email: " Alice@Example.com ", PasswordHash: "hash", Role: "admin", OrgID: "org-1"}
	require.NoError(t, users.CreateUser(ctx, u))
	require.NotEmpty(t, u.ID)

	got, err := users.FindUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, dmarcauth.ProviderLocal, got.Provider)
	assert.Nil(t, got.TOTPLastUsedAt)

	_, err = users.FindUserByID(ctx, "missing")
	assert.ErrorIs(t, err, dmarcauth.ErrUserNotFound)

	require.NoError(t, users.UpdatePasswordHash(ctx, u.ID, "new-hash"))
	got, err = users.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)

	assert.ErrorIs(t, users.UpdatePasswordHash(ctx, "missing", "x"), dmarcauth.ErrUserNotFound)
}

func TestUsersTOTPLifecycle(t *testing.T) {
	ctx := context.Background()
	users := NewUsers(openTestDB(t))
	u := &dmarcauth.User{Email: "bob@example.com"}
	require.NoError(t, users.CreateUser(ctx, u))

	enabledAt := time.Date(2026, 5, 1, 10, 0, 12, 0, time.UTC)
	step := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, users.EnableTOTP(ctx, u.ID, "iv:tag:ct", enabledAt, step))

	got, err := users.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.TOTPEnabled)
	require.NotNil(t, got.TOTPLastUsedAt)
	assert.True(t, got.TOTPLastUsedAt.Equal(step))
	assert.Equal(t, "iv:tag:ct", got.TOTPSecretEnc)

	next := step.Add(30 * time.Second)
	won, err := users.MarkTOTPUsed(ctx, u.ID, got.TOTPLastUsedAt, next)
	require.NoError(t, err)
	assert.True(t, won)

	// prev is stale now.
	won, err = users.MarkTOTPUsed(ctx, u.ID, got.TOTPLastUsedAt, next.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, users.DisableTOTP(ctx, u.ID))
	got, err = users.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.TOTPEnabled)
	assert.Empty(t, got.TOTPSecretEnc)
	assert.Nil(t, got.TOTPLastUsedAt)

	won, err = users.MarkTOTPUsed(ctx, u.ID, nil, next)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestUpsertFederatedUserKeepsExisting(t *testing.T) {
	ctx := context.Background()
	users := NewUsers(openTestDB(t))
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	first, err := users.UpsertFederatedUser(ctx, "Carol@Example.com", "viewer", at)
	require.NoError(t, err)
	assert.Equal(t, dmarcauth.ProviderFederated, first.Provider)
	assert.Equal(t, "carol@example.com", first.Email)

	again, err := users.UpsertFederatedUser(ctx, "carol@example.com", "admin", at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "viewer", again.Role)
}

func TestRefreshTokenRevokeIfActiveSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewRefreshTokens(openTestDB(t))
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, &ledger.RefreshToken{
		ID: "t1", UserID: "u1", FamilyID: "f1", TokenHash: "h1", ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))
	require.Error(t, store.Create(ctx, &ledger.RefreshToken{ID: "t1", UserID: "u1", FamilyID: "f1", TokenHash: "h1"}))

	_, err := store.FindByIDAndHash(ctx, "t1", "wrong")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.RevokeIfActive(ctx, "t1", ledger.ReasonRotation, now)
			assert.NoError(t, err)
			if won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	row, err := store.FindByID(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, row.Revoked)
	assert.Equal(t, ledger.ReasonRotation, row.RevokedReason)
	require.NotNil(t, row.RevokedAt)
}

func TestRefreshTokenFamilyAndUserRevocation(t *testing.T) {
	ctx := context.Background()
	store := NewRefreshTokens(openTestDB(t))
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, &ledger.RefreshToken{
			ID: id, UserID: "u1", FamilyID: "f1", TokenHash: id, ExpiresAt: now.Add(time.Hour), CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.Create(ctx, &ledger.RefreshToken{
		ID: "d", UserID: "u1", FamilyID: "f2", TokenHash: "d", ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))

	_, err := store.RevokeIfActive(ctx, "a", ledger.ReasonRotation, now)
	require.NoError(t, err)

	n, err := store.RevokeFamily(ctx, "f1", ledger.ReasonTheftDetected, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := store.ListFamily(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, ledger.ReasonRotation, rows[0].RevokedReason)
	assert.Equal(t, ledger.ReasonTheftDetected, rows[2].RevokedReason)

	n, err = store.RevokeUser(ctx, "u1", ledger.ReasonPasswordChange, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecoveryCodes(t *testing.T) {
	ctx := context.Background()
	store := NewRecoveryCodes(openTestDB(t))
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	batch := []recovery.Code{
		{ID: "c1", UserID: "u1", CodeHash: "h1", CreatedAt: now},
		{ID: "c2", UserID: "u1", CodeHash: "h2", CreatedAt: now},
	}
	require.NoError(t, store.ReplaceForUser(ctx, "u1", batch))

	won, err := store.MarkUsed(ctx, "c1", now)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = store.MarkUsed(ctx, "c1", now)
	require.NoError(t, err)
	assert.False(t, won)

	codes, err := store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.True(t, codes[0].Used)

	require.NoError(t, store.ReplaceForUser(ctx, "u1", []recovery.Code{{ID: "c3", UserID: "u1", CodeHash: "h3", CreatedAt: now}}))
	codes, err = store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, "c3", codes[0].ID)

	require.NoError(t, store.DeleteByUser(ctx, "u1"))
	codes, err = store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestEngineOverGorm(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewUsers(db)

	cfg := dmarcauth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password = dmarcauth.PasswordConfig{MinLength: 8, Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}
	cfg.TOTP.EncryptionSecret = "server-secret"
	cfg.RecoveryCodes.BcryptCost = 4

	engine, err := dmarcauth.New().
		WithConfig(cfg).
		WithUserStore(users).
		WithTokenStore(NewRefreshTokens(db)).
		WithRecoveryStore(NewRecoveryCodes(db)).
		Build()
	require.NoError(t, err)
	defer engine.Close()

	hash, err := engine.HashPassword("correct horse")
	require.NoError(t, err)
	require.NoError(t, users.CreateUser(ctx, &dmarcauth.User{Email: "dan@example.com", PasswordHash: hash}))

	res, err := engine.Login(ctx, "dan@example.com", "correct horse")
	require.NoError(t, err)

	rotated, err := engine.Refresh(ctx, res.RefreshToken, res.AccessToken)
	require.NoError(t, err)

	_, err = engine.Refresh(ctx, res.RefreshToken, res.AccessToken)
	assert.ErrorIs(t, err, dmarcauth.ErrSessionCompromised)

	_, err = engine.Refresh(ctx, rotated.RefreshToken, rotated.AccessToken)
	assert.ErrorIs(t, err, dmarcauth.ErrSessionCompromised)
}
