package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned by Store lookups that match no row.
var ErrNotFound = errors.New("ledger: refresh token not found")

// Store persists refresh-token rows.
//
// Every Revoke* method must be one conditional statement scoped by
// revoked=false. RevokeIfActive reports whether this call flipped the row.
type Store interface {
	Create(ctx context.Context, t *RefreshToken) error
	FindByIDAndHash(ctx context.Context, id, hash string) (*RefreshToken, error)
	FindByID(ctx context.Context, id string) (*RefreshToken, error)
	RevokeIfActive(ctx context.Context, id string, reason RevocationReason, at time.Time) (bool, error)
	RevokeFamily(ctx context.Context, familyID string, reason RevocationReason, at time.Time) (int64, error)
	RevokeUser(ctx context.Context, userID string, reason RevocationReason, at time.Time) (int64, error)
	ListFamily(ctx context.Context, familyID string) ([]RefreshToken, error)
}

// MemoryStore is an in-process Store. A single mutex makes each method
// atomic, which is what the conditional-update contract requires.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]RefreshToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]RefreshToken)}
}

func (s *MemoryStore) Create(_ context.Context, t *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[t.ID]; exists {
		return errors.New("ledger: duplicate token id")
	}
	s.rows[t.ID] = *t
	return nil
}

func (s *MemoryStore) FindByIDAndHash(_ context.Context, id, hash string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok || row.TokenHash != hash {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (s *MemoryStore) RevokeIfActive(_ context.Context, id string, reason RevocationReason, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok || row.Revoked {
		return false, nil
	}
	s.rows[id] = revoke(row, reason, at)
	return true, nil
}

func (s *MemoryStore) RevokeFamily(_ context.Context, familyID string, reason RevocationReason, at time.Time) (int64, error) {
	return s.revokeWhere(func(r RefreshToken) bool { return r.FamilyID == familyID }, reason, at), nil
}

func (s *MemoryStore) RevokeUser(_ context.Context, userID string, reason RevocationReason, at time.Time) (int64, error) {
	return s.revokeWhere(func(r RefreshToken) bool { return r.UserID == userID }, reason, at), nil
}

func (s *MemoryStore) ListFamily(_ context.Context, familyID string) ([]RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []RefreshToken
	for _, r := range s.rows {
		if r.FamilyID == familyID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) revokeWhere(match func(RefreshToken) bool, reason RevocationReason, at time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.rows {
		if !r.Revoked && match(r) {
			s.rows[id] = revoke(r, reason, at)
			n++
		}
	}
	return n
}

func revoke(r RefreshToken, reason RevocationReason, at time.Time) RefreshToken {
	r.Revoked = true
	r.RevokedReason = reason
	r.RevokedAt = &at
	return r
}
