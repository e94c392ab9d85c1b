// Package rate implements the attempt-counting state machine behind every
// authentication rate limit, plus the stores that persist its entries.
//
// # State machine
//
// Each key holds an [Entry] of {attempts, firstAttemptAt, lockedUntil}.
// Check denies while a lock is active, treats an elapsed window or an
// expired lock as a fresh key, and converts attempts >= Max into a lock of
// LockDuration. RecordFailure increments inside the window or starts a new
// one.
//
// # Stores
//
//   - [MemoryStore]: sharded mutex maps, per process. Not shared across
//     instances and reset on restart.
//   - [RedisStore]: JSON entries updated through a Lua compare-and-swap,
//     shared by every instance pointed at the same Redis.
//
// All writes go through [Store.CompareAndSwap]. Contention is resolved by
// re-reading the entry, never by blindly repeating a write.
//
// # What this package must NOT do
//
//   - Decide dimension policy (that lives in internal/limiters).
//   - Be imported outside the dmarcauth module.
package rate
