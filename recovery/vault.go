package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/dmarcauth/internal"
)

const (
	groupCount = 4
	groupSize  = 4
	codeLength = groupCount * groupSize
)

var (
	// ErrInvalid means no stored code matched.
	ErrInvalid = errors.New("recovery: invalid code")
	// ErrAlreadyUsed means the code matched a code that was already consumed.
	ErrAlreadyUsed = errors.New("recovery: code already used")
)

// Config tunes a Vault. Zero values use 10 codes at bcrypt cost 10.
type Config struct {
	Count      int
	BcryptCost int
}

// Vault issues and consumes recovery codes.
type Vault struct {
	store Store
	count int
	cost  int
	now   func() time.Time
	pick  func(int) (int, error)
}

// NewVault creates a Vault over store. A nil now uses time.Now.
func NewVault(store Store, cfg Config, now func() time.Time) *Vault {
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if now == nil {
		now = time.Now
	}
	return &Vault{store: store, count: cfg.Count, cost: cfg.BcryptCost, now: now, pick: internal.RandomIndex}
}

// GenerateBatch replaces the user's codes with a fresh batch and returns
// the plaintext codes. They are not retrievable afterwards.
func (v *Vault) GenerateBatch(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, errors.New("recovery: user id is required")
	}

	now := v.now()
	plain := make([]string, 0, v.count)
	seen := make(map[string]struct{}, v.count)
	rows := make([]Code, 0, v.count)

	for len(plain) < v.count {
		raw, err := internal.RandomString(internal.UpperAlphanumeric, codeLength, v.pick)
		if err != nil {
			return nil, fmt.Errorf("recovery: generate code: %w", err)
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}

		hash, err := bcrypt.GenerateFromPassword([]byte(raw), v.cost)
		if err != nil {
			return nil, fmt.Errorf("recovery: hash code: %w", err)
		}
		rows = append(rows, Code{
			ID:        uuid.NewString(),
			UserID:    userID,
			CodeHash:  string(hash),
			CreatedAt: now,
		})
		plain = append(plain, Format(raw))
	}

	if err := v.store.ReplaceForUser(ctx, userID, rows); err != nil {
		return nil, fmt.Errorf("recovery: store batch: %w", err)
	}
	return plain, nil
}

// Consume spends code for userID. It returns ErrAlreadyUsed when the code
// matches a consumed row and ErrInvalid when nothing matches.
func (v *Vault) Consume(ctx context.Context, userID, code string) error {
	canonical, ok := Canonicalize(code)
	if !ok {
		return ErrInvalid
	}

	codes, err := v.store.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("recovery: list codes: %w", err)
	}

	for _, c := range codes {
		if bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(canonical)) != nil {
			continue
		}
		if c.Used {
			return ErrAlreadyUsed
		}
		flipped, err := v.store.MarkUsed(ctx, c.ID, v.now())
		if err != nil {
			return fmt.Errorf("recovery: mark used: %w", err)
		}
		if !flipped {
			return ErrAlreadyUsed
		}
		return nil
	}
	return ErrInvalid
}

// InvalidateAll deletes every code for userID.
func (v *Vault) InvalidateAll(ctx context.Context, userID string) error {
	if err := v.store.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("recovery: delete codes: %w", err)
	}
	return nil
}

// Remaining counts unused codes for userID.
func (v *Vault) Remaining(ctx context.Context, userID string) (int, error) {
	codes, err := v.store.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("recovery: list codes: %w", err)
	}
	n := 0
	for _, c := range codes {
		if !c.Used {
			n++
		}
	}
	return n, nil
}

// Format groups a 16-character code as XXXX-XXXX-XXXX-XXXX.
func Format(raw string) string {
	var b strings.Builder
	b.Grow(codeLength + groupCount - 1)
	for i := 0; i < len(raw); i++ {
		if i > 0 && i%groupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(raw[i])
	}
	return b.String()
}

// Canonicalize strips dashes and whitespace and uppercases user input. It
// rejects anything that is not 16 alphanumerics.
func Canonicalize(code string) (string, bool) {
	var b strings.Builder
	b.Grow(codeLength)
	for _, r := range strings.ToUpper(code) {
		switch {
		case r == '-' || r == ' ' || r == '\t':
			continue
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			return "", false
		}
	}
	if b.Len() != codeLength {
		return "", false
	}
	return b.String(), true
}
