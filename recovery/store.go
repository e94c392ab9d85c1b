package recovery

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Code is one stored recovery code.
type Code struct {
	ID        string
	UserID    string
	CodeHash  string
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Store persists recovery codes.
//
// MarkUsed must be a single conditional write on used=false; it reports
// whether this call flipped the flag.
type Store interface {
	ReplaceForUser(ctx context.Context, userID string, codes []Code) error
	ListByUser(ctx context.Context, userID string) ([]Code, error)
	MarkUsed(ctx context.Context, id string, at time.Time) (bool, error)
	DeleteByUser(ctx context.Context, userID string) error
}

// MemoryStore is an in-process Store for tests and single-node tooling.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]Code
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[string]Code)}
}

func (s *MemoryStore) ReplaceForUser(_ context.Context, userID string, codes []Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.codes {
		if c.UserID == userID {
			delete(s.codes, id)
		}
	}
	for _, c := range codes {
		s.codes[c.ID] = c
	}
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Code, 0, 10)
	for _, c := range s.codes {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) MarkUsed(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[id]
	if !ok || c.Used {
		return false, nil
	}
	c.Used = true
	c.UsedAt = &at
	s.codes[id] = c
	return true, nil
}

func (s *MemoryStore) DeleteByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.codes {
		if c.UserID == userID {
			delete(s.codes, id)
		}
	}
	return nil
}
