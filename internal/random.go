package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

// UpperAlphanumeric is the alphabet of recovery codes.
const UpperAlphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomIndex returns a uniform index in [0, n) from crypto/rand.
func RandomIndex(n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("random index bound must be positive")
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// RandomString draws length characters from alphabet using pick, which
// defaults to RandomIndex.
func RandomString(alphabet string, length int, pick func(int) (int, error)) (string, error) {
	if pick == nil {
		pick = RandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		idx, err := pick(len(alphabet))
		if err != nil {
			return "", err
		}
		if idx < 0 || idx >= len(alphabet) {
			return "", errors.New("random index out of range")
		}
		b.WriteByte(alphabet[idx])
	}
	return b.String(), nil
}

// SHA256Hex returns the lowercase hex SHA-256 of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
