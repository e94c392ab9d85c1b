// Package dmarcauth is the credential and session security core of the DMARC
// dashboard: password login, TOTP second factor with replay prevention,
// recovery codes, SAML federated login with assertion replay protection,
// and rotating refresh tokens with theft detection.
//
// An [Engine] is assembled once through [Builder.Build] and is safe for
// concurrent use afterwards. Persistence is reached only through the store
// interfaces ([UserStore], ledger.Store, recovery.Store, [RateStore]);
// storage/gormstore provides relational implementations.
//
// # Architecture boundaries
//
// This package composes the ledger, totp, recovery, saml and rate-limit
// components into flows and maps their errors onto one taxonomy
// ([ErrorCode]). Transport concerns live in transport/httpapi and
// middleware.
//
// # Failure policy
//
//   - A detected refresh-token reuse is always rejected with
//     [ErrSessionCompromised], whatever happens to the alert or the family
//     revocation.
//   - Rate-limit store failures fail closed with [ErrUnavailable].
//   - SAML replay cache failures fail open, with a warning log.
package dmarcauth
