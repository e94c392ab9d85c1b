package rate

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	memoryShards       = 32
	defaultSweepPeriod = time.Minute
)

// MemoryStore is a process-local Store split across mutex-guarded shards.
// Expired entries are dropped lazily on access; each shard also sweeps
// itself at most once per sweep period as a memory bound.
type MemoryStore struct {
	shards      [memoryShards]memoryShard
	now         func() time.Time
	sweepPeriod time.Duration
}

type memoryShard struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	lastSweep time.Time
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	s := &MemoryStore{now: now, sweepPeriod: defaultSweepPeriod}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]memoryEntry)
		s.shards[i].lastSweep = now()
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	return &s.shards[xxhash.Sum64String(key)%memoryShards]
}

// lookup returns the live entry for key. Caller holds sh.mu.
func (s *MemoryStore) lookup(sh *memoryShard, key string, now time.Time) (Entry, bool) {
	if now.Sub(sh.lastSweep) >= s.sweepPeriod {
		for k, v := range sh.entries {
			if !now.Before(v.expiresAt) {
				delete(sh.entries, k)
			}
		}
		sh.lastSweep = now
	}

	e, ok := sh.entries[key]
	if !ok {
		return Entry{}, false
	}
	if !now.Before(e.expiresAt) {
		delete(sh.entries, key)
		return Entry{}, false
	}
	return e.entry, true
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := s.lookup(sh, key, s.now())
	return e, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.entries[key] = memoryEntry{entry: entry, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, key string, prev *Entry, next Entry, ttl time.Duration) (bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()
	cur, ok := s.lookup(sh, key, now)
	switch {
	case prev == nil && ok:
		return false, nil
	case prev != nil && (!ok || !cur.Equal(*prev)):
		return false, nil
	}

	sh.entries[key] = memoryEntry{entry: next, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.entries, key)
	return nil
}

// Len returns the number of entries held, including ones not yet swept.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
