// Package recovery manages one-time recovery codes for accounts with TOTP
// enabled.
//
// Codes look like XXXX-XXXX-XXXX-XXXX, are drawn from crypto/rand and are
// stored only as bcrypt hashes. A batch replaces every earlier code for the
// user. [Vault.Consume] marks a code used through a conditional store write,
// so a code can succeed at most once even under concurrent submission.
package recovery
