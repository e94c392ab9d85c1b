// Package middleware holds the gin middleware in front of dmarcauth routes.
//
// # Guards
//
//   - [RequireAccess] verifies the bearer access token and stores the
//     subject in the gin and request contexts.
//   - [RequireRole] rejects subjects whose role is not listed.
//   - [ClientIP] records the caller address for rate limiting and audit.
//
// Token checks are delegated to an [AccessValidator], normally a
// *dmarcauth.Engine. This package never parses JWTs itself.
package middleware
