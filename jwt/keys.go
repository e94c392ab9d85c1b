package jwt

import (
	"crypto/ed25519"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// edPrivate accepts a raw 64-byte key, a 32-byte seed or a PKCS#8 PEM block.
func edPrivate(key []byte) (ed25519.PrivateKey, error) {
	switch len(key) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(key), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("ed25519 private key: %w", err)
	}
	k, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("ed25519 private key: unexpected type %T", parsed)
	}
	return k, nil
}

// edPublic accepts a raw 32-byte key or a PKIX PEM block.
func edPublic(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("ed25519 public key: %w", err)
	}
	k, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ed25519 public key: unexpected type %T", parsed)
	}
	return k, nil
}

// derivePublic returns the verify key matching a signing key, for
// deployments that configure only the private half.
func derivePublic(private []byte) ([]byte, error) {
	k, err := edPrivate(private)
	if err != nil {
		return nil, err
	}
	return []byte(k.Public().(ed25519.PublicKey)), nil
}
