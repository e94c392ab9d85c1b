package dmarcauth

import (
	"context"
	"time"

	"github.com/MrEthical07/dmarcauth/internal/audit"
	"github.com/MrEthical07/dmarcauth/internal/rate"
)

// Provider tags how an account authenticates.
type Provider string

const (
	ProviderLocal     Provider = "local"
	ProviderFederated Provider = "federated"
)

// User is the identity record. Email is unique and lowercase. PasswordHash
// is empty for federated accounts.
type User struct {
	ID             string
	Email          string
	PasswordHash   string
	Provider       Provider
	Role           string
	OrgID          string
	TOTPSecretEnc  string
	TOTPEnabled    bool
	TOTPEnabledAt  *time.Time
	TOTPLastUsedAt *time.Time
	CreatedAt      time.Time
}

// UserStore persists users.
//
// MarkTOTPUsed must be a single conditional write: it sets TOTPLastUsedAt
// to stepStart only if the stored value still equals prev (nil meaning
// unset), and reports whether it did.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	EnableTOTP(ctx context.Context, userID, secretEnc string, enabledAt, lastUsedAt time.Time) error
	DisableTOTP(ctx context.Context, userID string) error
	MarkTOTPUsed(ctx context.Context, userID string, prev *time.Time, stepStart time.Time) (bool, error)
	UpsertFederatedUser(ctx context.Context, email, role string, at time.Time) (*User, error)
}

// Tokens is an issued access/refresh pair.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	FamilyID         string
	RefreshExpiresAt time.Time
}

// LoginResult is the outcome of a password login. When TOTPRequired is
// set, Tokens is empty and TempToken must be exchanged through
// LoginWithTOTP or LoginWithRecoveryCode.
type LoginResult struct {
	Tokens
	TOTPRequired bool
	TempToken    string
}

// TOTPSetup is a freshly generated, not yet stored, authenticator secret.
type TOTPSetup struct {
	Secret string
	URI    string
}

// RateStore is the backing store of the rate limiters.
type RateStore = rate.Store

// NewMemoryRateStore returns the per-process rate store. Counters are not
// shared across instances and do not survive restarts.
func NewMemoryRateStore() RateStore {
	return rate.NewMemoryStore(nil)
}

// AuditEvent and AuditSink are the audit pipeline types.
type (
	AuditEvent = audit.Event
	AuditSink  = audit.Sink
)
