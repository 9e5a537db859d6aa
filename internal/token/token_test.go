package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndMatches(t *testing.T) {
	plain, digest, err := New()
	require.NoError(t, err)

	assert.Len(t, plain, 64) // 32 bytes hex encoded
	assert.NotEqual(t, plain, digest)
	assert.True(t, Matches(plain, digest))
}

func TestMatchesRejectsTampering(t *testing.T) {
	plain, digest, err := New()
	require.NoError(t, err)

	// Flip one character of the presented token.
	tampered := []byte(plain)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}
	assert.False(t, Matches(string(tampered), digest))
}

func TestMatchesEmptyDigest(t *testing.T) {
	// Account bookings have no stored digest; nothing may match them.
	assert.False(t, Matches("anything", ""))
	assert.False(t, Matches("", ""))
}

func TestTokensAreUnique(t *testing.T) {
	a, _, err := New()
	require.NoError(t, err)
	b, _, err := New()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestValidAt(t *testing.T) {
	end := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

	t.Run("valid while ongoing regardless of end", func(t *testing.T) {
		assert.True(t, ValidAt(end.Add(90*24*time.Hour), end, true))
	})

	t.Run("valid within 30 days after end", func(t *testing.T) {
		assert.True(t, ValidAt(end.Add(29*24*time.Hour), end, false))
	})

	t.Run("expired after 30 days", func(t *testing.T) {
		assert.False(t, ValidAt(end.Add(31*24*time.Hour), end, false))
	})
}
