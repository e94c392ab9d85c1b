package rate

import (
	"context"
	"time"
)

// Entry is the persisted state of one rate-limited key.
type Entry struct {
	Attempts       int
	FirstAttemptAt time.Time
	LockedUntil    time.Time
}

// Locked reports whether the entry carries a lock that is still active at now.
func (e Entry) Locked(now time.Time) bool {
	return !e.LockedUntil.IsZero() && now.Before(e.LockedUntil)
}

// Equal compares entries by instant, ignoring monotonic readings and zones.
func (e Entry) Equal(o Entry) bool {
	return e.Attempts == o.Attempts &&
		e.FirstAttemptAt.Equal(o.FirstAttemptAt) &&
		e.LockedUntil.Equal(o.LockedUntil)
}

// Store persists entries for a Limiter.
//
// CompareAndSwap must be atomic: it writes next only when the stored value
// still equals prev. A nil prev means "only if absent". Implementations
// drop entries once ttl has elapsed.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	CompareAndSwap(ctx context.Context, key string, prev *Entry, next Entry, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}
