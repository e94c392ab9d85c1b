package password

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrMalformedHash is returned for stored hashes this package cannot parse.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrTooShort rejects passwords below the configured minimum length.
	ErrTooShort = errors.New("password too short")
	// ErrTooLong rejects passwords above MaxLength bytes.
	ErrTooLong = errors.New("password too long")
)

// MaxLength bounds the work a single verify can cost.
const MaxLength = 1024

// Config configures a Validator.
type Config struct {
	MinLength int
	Argon2    Params
}

// Validator is the credential check used by the login and password change
// flows.
type Validator struct {
	argon     *Argon2
	minLength int
	dummy     string
}

// NewValidator builds a Validator. It precomputes a dummy hash so that
// lookups for unknown accounts cost as much as real ones.
func NewValidator(cfg Config) (*Validator, error) {
	a, err := NewArgon2(cfg.Argon2)
	if err != nil {
		return nil, err
	}
	v := &Validator{argon: a, minLength: cfg.MinLength}
	v.dummy, err = a.Hash("dmarcauth-dummy-password")
	if err != nil {
		return nil, err
	}
	return v, nil
}

// CheckPolicy enforces length bounds on a new password.
func (v *Validator) CheckPolicy(password string) error {
	if utf8.RuneCountInString(password) < v.minLength {
		return ErrTooShort
	}
	if len(password) > MaxLength {
		return ErrTooLong
	}
	return nil
}

// Hash produces an Argon2id hash for storage.
func (v *Validator) Hash(password string) (string, error) {
	if len(password) > MaxLength {
		return "", ErrTooLong
	}
	return v.argon.Hash(password)
}

// Verify checks password against a stored argon2id or bcrypt hash.
// needsRehash is set for bcrypt hashes and weaker argon2 parameters.
// An empty stored hash (federated accounts) never verifies.
func (v *Validator) Verify(password, stored string) (ok bool, needsRehash bool, err error) {
	if stored == "" || len(password) > MaxLength {
		v.Burn(password)
		return false, false, nil
	}

	if isBcrypt(stored) {
		err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
		switch {
		case err == nil:
			return true, true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, false, nil
		default:
			return false, false, errors.Join(ErrMalformedHash, err)
		}
	}

	return v.argon.Verify(password, stored)
}

// Burn spends one verify worth of CPU against the dummy hash.
func (v *Validator) Burn(password string) {
	if len(password) > MaxLength {
		password = password[:MaxLength]
	}
	_, _, _ = v.argon.Verify(password, v.dummy)
}

func isBcrypt(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") ||
		strings.HasPrefix(stored, "$2b$") ||
		strings.HasPrefix(stored, "$2y$")
}
