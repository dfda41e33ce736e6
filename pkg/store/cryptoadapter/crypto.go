// Package cryptoadapter implements the store.Crypto port over the
// standard library. No example repo in this lineage ships a dedicated
// hashing/HMAC library beyond what crypto/sha256, crypto/sha512, and
// crypto/hmac already provide, so this concern stays on stdlib — see
// DESIGN.md.
package cryptoadapter

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
)

// Crypto implements store.Crypto.
type Crypto struct{}

// New returns a stdlib-backed Crypto port implementation.
func New() Crypto { return Crypto{} }

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("cryptoadapter: unsupported algorithm %q", algorithm)
	}
}

// Hash returns the lowercase hex digest of data under algorithm.
func (Crypto) Hash(algorithm string, data []byte) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HMAC returns the raw HMAC digest of data under key and algorithm.
func (Crypto) HMAC(algorithm string, key, data []byte) ([]byte, error) {
	if _, err := newHash(algorithm); err != nil {
		return nil, err
	}
	mac := hmac.New(func() hash.Hash {
		h, _ := newHash(algorithm)
		return h
	}, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// ConstantTimeEqual compares a and b in constant time relative to their
// shared length; unequal lengths are reported unequal (still without
// leaking *which* byte differs).
func (Crypto) ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
