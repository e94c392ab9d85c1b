// Package internal holds small helpers shared by dmarcauth packages:
// crypto-random strings and the SHA-256 hex digest used for refresh-token
// and SAML assertion fingerprints.
package internal
