// Package ledger issues, rotates and revokes refresh tokens and detects
// reuse of revoked ones.
//
// # Storage model
//
// Every issued refresh token has a [RefreshToken] row holding only the
// SHA-256 hex of the token string. Rows descended from one login share a
// FamilyID. Rows are revoked, never deleted.
//
// # Rotation
//
// [Ledger.Rotate] checks, in order: token pair subject match, row lookup by
// (id, hash), expiry, revocation. The successor row is written first, then
// the live row is revoked with a single conditional write (revoked=false
// predicate). Only the caller whose write hit the row returns its successor;
// the others revoke theirs. A revoked row, or a lost conditional write, is
// reuse: the [TheftResponder] runs and the caller gets
// [ErrSessionCompromised].
//
// With family invalidation on, a concurrent rotation race therefore leaves
// no live token in the family: the winner's successor already exists when
// the losers revoke the family.
//
// # What this package must NOT do
//
//   - Hold locks across store calls. Correctness rests on Store's
//     conditional updates.
//   - Import dmarcauth.
package ledger
