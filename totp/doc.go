// Package totp generates and validates RFC 6238 codes for second-factor
// login, and encrypts secrets for storage.
//
// Codes are computed with github.com/pquerna/otp. [Engine.Validate] returns
// the matched time step so callers can enforce one acceptance per step with
// [Engine.IsReplay].
//
// Secrets at rest use AES-256-GCM with a key derived as SHA-256 of the
// server secret, serialised as iv:tag:ciphertext in lowercase hex.
package totp
