package ledger

import "time"

// RevocationReason records why a token stopped being valid.
type RevocationReason string

const (
	ReasonRotation       RevocationReason = "rotation"
	ReasonLogout         RevocationReason = "logout"
	ReasonPasswordChange RevocationReason = "password_change"
	ReasonTheftDetected  RevocationReason = "theft_detected"
)

// RefreshToken is the persisted state of one issued refresh token.
type RefreshToken struct {
	ID            string
	UserID        string
	FamilyID      string
	TokenHash     string
	ExpiresAt     time.Time
	Revoked       bool
	RevokedReason RevocationReason
	RevokedAt     *time.Time
	CreatedAt     time.Time
}

// Pair is what a successful issue or rotation hands back to the client.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	FamilyID         string
	TokenID          string
	RefreshExpiresAt time.Time
}
