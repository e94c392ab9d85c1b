package internal

import (
	"errors"
	"strings"
	"testing"
)

func TestRandomStringUsesAlphabet(t *testing.T) {
	s, err := RandomString(UpperAlphanumeric, 64, nil)
	if err != nil {
		t.Fatalf("RandomString: %v", err)
	}
	if len(s) != 64 {
		t.Fatalf("expected 64 chars, got %d", len(s))
	}
	for _, r := range s {
		if !strings.ContainsRune(UpperAlphanumeric, r) {
			t.Fatalf("unexpected rune %q", r)
		}
	}
}

func TestRandomStringPropagatesPickErrors(t *testing.T) {
	boom := errors.New("boom")
	if _, err := RandomString("AB", 4, func(int) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected pick error, got %v", err)
	}
	if _, err := RandomString("AB", 4, func(int) (int, error) { return 5, nil }); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestSHA256Hex(t *testing.T) {
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := SHA256Hex("abc"); got != want {
		t.Fatalf("SHA256Hex(abc) = %s", got)
	}
}

func FuzzRandomIndexBounds(f *testing.F) {
	f.Add(1)
	f.Add(36)
	f.Add(1 << 20)
	f.Fuzz(func(t *testing.T, n int) {
		idx, err := RandomIndex(n)
		if n <= 0 {
			if err == nil {
				t.Fatalf("expected error for n=%d", n)
			}
			return
		}
		if err != nil || idx < 0 || idx >= n {
			t.Fatalf("RandomIndex(%d) = %d, %v", n, idx, err)
		}
	})
}
