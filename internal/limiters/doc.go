// Package limiters binds the five authentication rate-limit dimensions to
// the internal/rate state machine.
//
// # Dimensions
//
//   - login_ip: failed logins per client IP (10 / 5m).
//   - login_account: failed logins per email (5 / 5m, 15m lock).
//   - totp_verify: failed TOTP codes per user (5 / 15m).
//   - recovery_verify: failed recovery codes per user (3 / 15m).
//   - totp_setup: TOTP setup starts per user (10 / 1h).
//
// A successful login resets only login_account. IP counters persist so they
// keep bounding abuse volume.
//
// All Guard methods are nil-safe: a nil *Guard never limits.
//
// # What this package must NOT do
//
//   - Import dmarcauth or any sibling internal package except internal/rate.
//   - Decide what a denial means for the flow (the engine does).
package limiters
