package rate

import (
	"context"
	"fmt"
	"time"
)

const maxSwapAttempts = 8

// Policy holds the thresholds of one limiter dimension.
type Policy struct {
	Max          int
	Window       time.Duration
	LockDuration time.Duration
}

// Limiter applies a Policy to keys of a single dimension.
type Limiter struct {
	store  Store
	name   string
	policy Policy
	now    func() time.Time
}

// New creates a Limiter for the dimension name. A nil now uses time.Now.
func New(store Store, name string, policy Policy, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	if policy.LockDuration <= 0 {
		policy.LockDuration = policy.Window
	}
	return &Limiter{
		store:  store,
		name:   name,
		policy: policy,
		now:    now,
	}
}

// Name returns the dimension name.
func (l *Limiter) Name() string {
	if l == nil {
		return ""
	}
	return l.name
}

// Check returns a *LimitError when key is currently locked or has used up
// its window. Reaching Max converts the entry into a lock.
func (l *Limiter) Check(ctx context.Context, key string) error {
	if l == nil || key == "" {
		return nil
	}
	storeKey := l.key(key)

	for i := 0; i < maxSwapAttempts; i++ {
		now := l.now()
		cur, ok, err := l.store.Get(ctx, storeKey)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !ok {
			return nil
		}
		if cur.Locked(now) {
			return l.limited(cur.LockedUntil.Sub(now))
		}
		if l.stale(cur, now) {
			return nil
		}
		if cur.Attempts < l.policy.Max {
			return nil
		}

		next := cur
		next.LockedUntil = now.Add(l.policy.LockDuration)
		swapped, err := l.store.CompareAndSwap(ctx, storeKey, &cur, next, l.ttl())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if swapped {
			return l.limited(l.policy.LockDuration)
		}
	}

	return ErrContention
}

// RecordFailure counts one failed attempt for key.
func (l *Limiter) RecordFailure(ctx context.Context, key string) error {
	if l == nil || key == "" {
		return nil
	}
	storeKey := l.key(key)

	for i := 0; i < maxSwapAttempts; i++ {
		now := l.now()
		cur, ok, err := l.store.Get(ctx, storeKey)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		var prev *Entry
		next := Entry{Attempts: 1, FirstAttemptAt: now}
		if ok {
			prev = &cur
			if !l.stale(cur, now) {
				next = cur
				next.Attempts++
			}
		}

		swapped, err := l.store.CompareAndSwap(ctx, storeKey, prev, next, l.ttl())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if swapped {
			return nil
		}
	}

	return ErrContention
}

// Reset forgets every attempt recorded for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if l == nil || key == "" {
		return nil
	}
	if err := l.store.Delete(ctx, l.key(key)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Attempts returns the live attempt count for key, zero when stale.
func (l *Limiter) Attempts(ctx context.Context, key string) (int, error) {
	if l == nil || key == "" {
		return 0, nil
	}
	cur, ok, err := l.store.Get(ctx, l.key(key))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok || l.stale(cur, l.now()) {
		return 0, nil
	}
	return cur.Attempts, nil
}

// stale reports whether cur should be treated as a fresh key: its lock has
// expired, or no lock was ever set and the window has elapsed.
func (l *Limiter) stale(cur Entry, now time.Time) bool {
	if !cur.LockedUntil.IsZero() {
		return !now.Before(cur.LockedUntil)
	}
	return now.Sub(cur.FirstAttemptAt) >= l.policy.Window
}

func (l *Limiter) ttl() time.Duration {
	return l.policy.Window + l.policy.LockDuration
}

func (l *Limiter) key(key string) string {
	return "rl:" + l.name + ":" + key
}

func (l *Limiter) limited(retryAfter time.Duration) error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &LimitError{Dimension: l.name, RetryAfter: retryAfter}
}
