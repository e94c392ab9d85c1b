package dmarcauth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryUserStore is an in-process UserStore for tests and tooling. Each
// method holds one mutex, so the conditional writes are atomic.
type MemoryUserStore struct {
	mu      sync.Mutex
	byID    map[string]User
	byEmail map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

// Put inserts or replaces u. An empty ID gets a fresh UUID.
func (s *MemoryUserStore) Put(u User) User {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = normalizeEmail(u.Email)
	if u.Provider == "" {
		u.Provider = ProviderLocal
	}
	s.byID[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return u
}

func (s *MemoryUserStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := s.byID[id]
	return &u, nil
}

func (s *MemoryUserStore) FindUserByID(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryUserStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	return s.update(userID, func(u *User) { u.PasswordHash = hash })
}

func (s *MemoryUserStore) EnableTOTP(_ context.Context, userID, secretEnc string, enabledAt, lastUsedAt time.Time) error {
	return s.update(userID, func(u *User) {
		u.TOTPSecretEnc = secretEnc
		u.TOTPEnabled = true
		u.TOTPEnabledAt = &enabledAt
		u.TOTPLastUsedAt = &lastUsedAt
	})
}

func (s *MemoryUserStore) DisableTOTP(_ context.Context, userID string) error {
	return s.update(userID, func(u *User) {
		u.TOTPSecretEnc = ""
		u.TOTPEnabled = false
		u.TOTPEnabledAt = nil
		u.TOTPLastUsedAt = nil
	})
}

func (s *MemoryUserStore) MarkTOTPUsed(_ context.Context, userID string, prev *time.Time, stepStart time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	if !sameInstant(u.TOTPLastUsedAt, prev) {
		return false, nil
	}
	u.TOTPLastUsedAt = &stepStart
	s.byID[userID] = u
	return true, nil
}

func (s *MemoryUserStore) UpsertFederatedUser(_ context.Context, email, role string, at time.Time) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = normalizeEmail(email)
	if id, ok := s.byEmail[email]; ok {
		u := s.byID[id]
		return &u, nil
	}
	u := User{
		ID:        uuid.NewString(),
		Email:     email,
		Provider:  ProviderFederated,
		Role:      role,
		CreatedAt: at,
	}
	s.byID[u.ID] = u
	s.byEmail[email] = u.ID
	return &u, nil
}

func (s *MemoryUserStore) update(userID string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(&u)
	s.byID[userID] = u
	return nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
