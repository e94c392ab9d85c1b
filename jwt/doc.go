// Package jwt issues and verifies the three token kinds used by dmarcauth:
// short-lived access tokens, refresh tokens bound to a ledger row, and the
// MFA temp token that bridges password login to a second factor.
//
// Every token carries a typ claim; parsers reject tokens of the wrong kind
// so a refresh token can never be replayed as an access token.
//
// # What this package must NOT do
//
//   - Touch storage. Refresh-token hashing and rotation live in ledger.
//   - Import dmarcauth.
package jwt
