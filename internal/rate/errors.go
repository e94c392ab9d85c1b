package rate

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrRateLimited is matched by every *LimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps backend failures from a Store.
	ErrStoreUnavailable = errors.New("rate store unavailable")
	// ErrContention is returned when compare-and-swap keeps losing to
	// concurrent writers on the same key.
	ErrContention = errors.New("rate store contention")
)

// LimitError reports a denied attempt together with the time the caller
// must wait before retrying.
type LimitError struct {
	Dimension  string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return "rate limited: " + e.Dimension
}

// Is makes errors.Is(err, ErrRateLimited) succeed for any LimitError.
func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (e *LimitError) RetryAfterSeconds() int {
	if e == nil || e.RetryAfter <= 0 {
		return 1
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}
