// Package admin implements time-bound elevated access: signed admin tokens
// persisted encrypted to a single well-known file, an environment elevation
// path for development builds, and the break-glass emergency recovery
// exchange.
package admin

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"arcavault/internal/security"
)

// Method records how an admin token was issued.
type Method string

const (
	MethodDebugEnvironment Method = "debug_environment"
	MethodTokenFile        Method = "token_file"
	MethodBreakGlass       Method = "break_glass"
)

// Token lifetimes. Whatever lifetime is requested, a token never lives
// longer than MaxLifetime; break-glass tokens are fixed at
// BreakGlassLifetime and the environment path at EnvLifetime.
const (
	MaxLifetime        = 30 * 24 * time.Hour
	BreakGlassLifetime = 4 * time.Hour
	EnvLifetime        = 8 * time.Hour
)

// Admin-only capability actions granted on elevation.
const (
	ActionDiagnostics = "admin.diagnostics"
	ActionOverride    = "admin.override"
)

// Token validation failures.
var (
	ErrTokenExpired          = errors.New("admin token expired")
	ErrTokenSignatureInvalid = errors.New("admin token signature invalid")
)

// Token is a signed grant of elevated access. Signed with the admin key,
// which is deliberately not machine-bound so tokens can be authored anywhere
// and verified everywhere; the token *file* is still encrypted with the
// machine-bound key.
type Token struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Nonce     string    `json:"nonce"`
	Method    Method    `json:"method"`
	Signature string    `json:"signature"`
}

// Remaining returns the token's remaining lifetime at now
func (t Token) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// canonical builds the signing input. Field order is part of the contract.
func (t Token) canonical() []byte {
	parts := []string{
		"v1",
		t.ID,
		t.Scope,
		t.IssuedAt.UTC().Format(time.RFC3339Nano),
		t.ExpiresAt.UTC().Format(time.RFC3339Nano),
		t.Nonce,
		string(t.Method),
	}
	return []byte(strings.Join(parts, "|"))
}

// Signer mints and verifies admin tokens.
type Signer struct {
	adminKey []byte
	now      func() time.Time
}

// NewSigner creates a signer with the admin signing key
func NewSigner(adminKey []byte) (*Signer, error) {
	if len(adminKey) != security.KeyLength {
		return nil, fmt.Errorf("admin key must be %d bytes, got %d", security.KeyLength, len(adminKey))
	}
	return &Signer{adminKey: adminKey, now: time.Now}, nil
}

// Mint creates a signed token for scope. The lifetime is clamped to
// MaxLifetime; callers issuing break-glass tokens pass BreakGlassLifetime.
func (s *Signer) Mint(scope string, lifetime time.Duration, method Method) (Token, error) {
	if scope == "" {
		return Token{}, fmt.Errorf("scope cannot be empty")
	}
	if lifetime <= 0 {
		return Token{}, fmt.Errorf("lifetime must be positive")
	}
	if lifetime > MaxLifetime {
		lifetime = MaxLifetime
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return Token{}, fmt.Errorf("failed to generate token nonce: %w", err)
	}

	now := s.now().UTC()
	t := Token{
		ID:        uuid.NewString(),
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(lifetime),
		Nonce:     hex.EncodeToString(nonce),
		Method:    method,
	}
	t.Signature = s.sign(t)
	return t, nil
}

// Validate verifies the token signature and expiry. The signature comparison
// is constant-time.
func (s *Signer) Validate(t Token) error {
	signature, err := hex.DecodeString(t.Signature)
	if err != nil {
		return ErrTokenSignatureInvalid
	}
	expected, err := hex.DecodeString(s.sign(t))
	if err != nil {
		return ErrTokenSignatureInvalid
	}
	if !hmac.Equal(signature, expected) {
		return ErrTokenSignatureInvalid
	}
	if s.now().UTC().After(t.ExpiresAt) {
		return ErrTokenExpired
	}
	return nil
}

func (s *Signer) sign(t Token) string {
	mac := hmac.New(sha256.New, s.adminKey)
	mac.Write(t.canonical())
	return hex.EncodeToString(mac.Sum(nil))
}
