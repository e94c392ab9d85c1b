// Package gormstore implements the dmarcauth user, refresh-token and
// recovery-code stores on gorm.
//
// Every conditional write (refresh-token revocation, TOTP step claims,
// recovery-code consumption) is a single UPDATE scoped by the expected old
// value, and success is read from RowsAffected. Concurrent callers across
// instances therefore agree on exactly one winner.
//
// The TOTP last-used step start is stored as unix seconds so the
// compare-and-set matches exactly regardless of driver time encoding.
package gormstore
