// Package token issues and verifies opaque guest access tokens. A token is
// bound 1:1 to a guest booking and substitutes for authenticated identity.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

const rawBytes = 32 // 256 bits of entropy

// ValidityAfterEnd is how long a token stays usable past the booking's end
// time once the booking is no longer ongoing.
const ValidityAfterEnd = 30 * 24 * time.Hour

// New generates a fresh token and returns the plaintext (handed to the
// guest exactly once) together with its stored digest.
func New() (plain, digest string, err error) {
	b := make([]byte, rawBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}
	plain = hex.EncodeToString(b)
	return plain, Digest(plain), nil
}

// Digest returns the hex-encoded SHA-256 of a plaintext token. Only digests
// are persisted.
func Digest(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// Matches compares a presented token against a stored digest in constant
// time, so the comparison leaks nothing about where the strings first
// differ.
func Matches(presented, storedDigest string) bool {
	if storedDigest == "" {
		return false
	}
	got := Digest(presented)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedDigest)) == 1
}

// ValidAt reports whether a token is inside its validity window: from
// issuance until end+30 days, or indefinitely while the booking is ongoing.
func ValidAt(now, endTime time.Time, ongoing bool) bool {
	if ongoing {
		return true
	}
	return !now.After(endTime.Add(ValidityAfterEnd))
}
