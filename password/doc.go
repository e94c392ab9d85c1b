// Package password wraps the key-derivation functions used for account
// passwords behind a single [Validator].
//
// New hashes are Argon2id in PHC form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Bcrypt hashes ($2a$/$2b$/$2y$) written by earlier deployments still
// verify; [Validator.Verify] flags them for rehash so the caller can upgrade
// the stored hash after a successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other dmarcauth package.
//   - Log plaintext passwords.
package password
