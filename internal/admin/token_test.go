package admin

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcavault/internal/security"
)

func testAdminKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, security.KeyLength)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testAdminKey(t))
	require.NoError(t, err)
	return s
}

func TestNewSignerRejectsShortKey(t *testing.T) {
	_, err := NewSigner([]byte("short"))
	assert.Error(t, err)
}

func TestMintValidateRoundTrip(t *testing.T) {
	s := testSigner(t)

	token, err := s.Mint("star_rupture", time.Hour, MethodTokenFile)
	require.NoError(t, err)

	assert.NotEmpty(t, token.ID)
	assert.NotEmpty(t, token.Nonce)
	assert.Equal(t, "star_rupture", token.Scope)
	assert.Equal(t, MethodTokenFile, token.Method)
	assert.NoError(t, s.Validate(token))
}

func TestMintClampsLifetime(t *testing.T) {
	s := testSigner(t)

	token, err := s.Mint("star_rupture", 365*24*time.Hour, MethodTokenFile)
	require.NoError(t, err)

	lifetime := token.ExpiresAt.Sub(token.IssuedAt)
	assert.Equal(t, MaxLifetime, lifetime, "a year-long request clamps to the ceiling")
	assert.NoError(t, s.Validate(token))
}

func TestMintRejectsBadInput(t *testing.T) {
	s := testSigner(t)

	_, err := s.Mint("", time.Hour, MethodTokenFile)
	assert.Error(t, err)
	_, err = s.Mint("star_rupture", 0, MethodTokenFile)
	assert.Error(t, err)
	_, err = s.Mint("star_rupture", -time.Hour, MethodTokenFile)
	assert.Error(t, err)
}

func TestValidateExpired(t *testing.T) {
	s := testSigner(t)

	token, err := s.Mint("star_rupture", time.Hour, MethodTokenFile)
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.ErrorIs(t, s.Validate(token), ErrTokenExpired)
}

func TestValidateRejectsFieldTampering(t *testing.T) {
	s := testSigner(t)

	base, err := s.Mint("star_rupture", time.Hour, MethodTokenFile)
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Token)
	}{
		{"id", func(t *Token) { t.ID = "other-id" }},
		{"scope", func(t *Token) { t.Scope = "other_game" }},
		{"expiry extended", func(t *Token) { t.ExpiresAt = t.ExpiresAt.Add(24 * time.Hour) }},
		{"issued backdated", func(t *Token) { t.IssuedAt = t.IssuedAt.Add(-24 * time.Hour) }},
		{"nonce", func(t *Token) { t.Nonce = "00000000000000000000000000000000" }},
		{"method", func(t *Token) { t.Method = MethodBreakGlass }},
		{"signature", func(t *Token) { t.Signature = "deadbeef" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mutated := base
			tc.mutate(&mutated)
			assert.ErrorIs(t, s.Validate(mutated), ErrTokenSignatureInvalid)
		})
	}
}

func TestValidateWrongKey(t *testing.T) {
	s := testSigner(t)
	other := testSigner(t)

	token, err := s.Mint("star_rupture", time.Hour, MethodTokenFile)
	require.NoError(t, err)
	assert.ErrorIs(t, other.Validate(token), ErrTokenSignatureInvalid)
}

func TestRemaining(t *testing.T) {
	now := time.Now().UTC()
	token := Token{ExpiresAt: now.Add(time.Hour)}
	assert.InDelta(t, time.Hour, token.Remaining(now), float64(time.Second))
}
