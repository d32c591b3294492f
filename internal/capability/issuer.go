package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"arcavault/internal/security"
)

// Issuer creates signed capabilities. The signing key is machine-bound and
// re-derived at process start.
type Issuer struct {
	signingKey []byte
}

// NewIssuer creates an issuer with the given signing key
func NewIssuer(signingKey []byte) (*Issuer, error) {
	if len(signingKey) != security.KeyLength {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", security.KeyLength, len(signingKey))
	}
	return &Issuer{signingKey: signingKey}, nil
}

// Issue creates a capability for action and scope. A lifetime of zero or
// less means the capability never expires.
func (i *Issuer) Issue(action, scope string, lifetime time.Duration) (Capability, error) {
	if action == "" {
		return Capability{}, fmt.Errorf("action cannot be empty")
	}
	if scope == "" {
		return Capability{}, fmt.Errorf("scope cannot be empty")
	}

	now := time.Now().UTC()
	cap := Capability{
		ID:        uuid.NewString(),
		Action:    action,
		GameScope: scope,
		IssuedAt:  now,
	}
	if lifetime > 0 {
		expires := now.Add(lifetime)
		cap.ExpiresAt = &expires
	}
	cap.Signature = sign(i.signingKey, cap)
	return cap, nil
}

// sign computes the capability signature over the canonical string
func sign(key []byte, c Capability) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(c.canonical())
	return hex.EncodeToString(mac.Sum(nil))
}
