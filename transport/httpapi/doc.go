// Package httpapi exposes the dmarcauth engine over JSON/HTTP with gin.
//
// Error responses carry {"code", "message"}. Status mapping:
//
//	401  credential, token, TOTP, recovery-code and SAML failures
//	401  SESSION_COMPROMISED on refresh-token reuse
//	429  RATE_LIMITED, with Retry-After in seconds
//	400  malformed requests, password policy, TOTP state conflicts
//	503  SERVICE_UNAVAILABLE when a backing store is down
//	500  anything else
//
// The SAML callback accepts the assertion profile produced by the
// signature-verifying SAML layer in front of this service.
package httpapi
