package totp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

var (
	// ErrDecrypt covers every failure to open a stored secret: bad format,
	// wrong key or a tampered tag.
	ErrDecrypt = errors.New("totp: cannot decrypt secret")
	// ErrNoServerSecret is returned by NewCipher for an empty server secret.
	ErrNoServerSecret = errors.New("totp: server secret is required")
)

// Cipher seals TOTP secrets for storage.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the AES-256 key from serverSecret.
func NewCipher(serverSecret string) (*Cipher, error) {
	if serverSecret == "" {
		return nil, ErrNoServerSecret
	}
	key := sha256.Sum256([]byte(serverSecret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns iv:tag:ciphertext in hex.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - c.aead.Overhead()
	ct, tag := sealed[:split], sealed[split:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(stored string) (string, error) {
	parts := strings.Split(stored, ":")
	if len(parts) != 3 {
		return "", ErrDecrypt
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != c.aead.NonceSize() {
		return "", ErrDecrypt
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != c.aead.Overhead() {
		return "", ErrDecrypt
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrDecrypt
	}

	plain, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
