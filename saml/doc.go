// Package saml holds the application-level checks wrapped around a SAML
// assertion that a signature library has already verified: audience,
// recipient and validity-window checks, assertion identity, and replay
// detection.
//
// # Replay guard
//
// [ReplayGuard] records each assertion id in Redis with SET NX and a TTL
// covering the assertion's validity window. A second sighting within the
// grace period is tolerated, since verification libraries may validate one
// physical assertion more than once. Later sightings are replays.
//
// When Redis is unreachable the guard consults a process-local cache and
// otherwise fails open with a warning. SSO availability is preferred over
// this secondary defence.
package saml
