package capability

import (
	"crypto/hmac"
	"encoding/hex"
	"fmt"
	"time"

	"arcavault/internal/security"
)

// Validator verifies capabilities against an expected action and scope.
type Validator struct {
	signingKey []byte
	now        func() time.Time
}

// NewValidator creates a validator with the given signing key
func NewValidator(signingKey []byte) (*Validator, error) {
	if len(signingKey) != security.KeyLength {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", security.KeyLength, len(signingKey))
	}
	return &Validator{signingKey: signingKey, now: time.Now}, nil
}

// Validate checks the capability in a fixed order: expiry first (cheapest),
// then action, then scope, then signature recomputation with a constant-time
// comparison. The first failing check decides the returned reason.
func (v *Validator) Validate(c Capability, expectedAction, expectedScope string) error {
	if c.Expired(v.now()) {
		return ErrExpired
	}
	if c.Action != expectedAction {
		return ErrActionMismatch
	}
	if !c.MatchesScope(expectedScope) {
		return ErrScopeMismatch
	}

	signature, err := hex.DecodeString(c.Signature)
	if err != nil {
		return ErrSignatureInvalid
	}
	expected, err := hex.DecodeString(sign(v.signingKey, c))
	if err != nil {
		return ErrSignatureInvalid
	}
	if !hmac.Equal(signature, expected) {
		return ErrSignatureInvalid
	}
	return nil
}
