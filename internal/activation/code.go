// Package activation implements the short human-typeable signed vouchers
// that redeem into capability bundles, and the ledger that makes each code
// single-use.
package activation

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Code prefix and payload layout. The payload is 10 bytes:
// [bundleId:1][flags:1][nonce:4][tag:4], hex-encoded and grouped for human
// entry as ARCA-XXXX-XXXX-XXXX-XXXX-XXXX. The tag is the first 4 bytes of
// HMAC-SHA256(activation_key, payload[0:6]).
const (
	CodePrefix = "ARCA"

	payloadLen  = 10
	macInputLen = 6
	tagLen      = 4

	hexLen   = payloadLen * 2
	groupLen = 4
)

// Format and authenticity failures. These are returned immediately with no
// state mutated.
var (
	ErrMalformedCode = errors.New("malformed activation code")
	ErrInvalidCode   = errors.New("activation code failed verification")
	ErrUnknownBundle = errors.New("unknown bundle")
)

// Bundle is a named group of capability actions redeemable via one code.
type Bundle byte

const (
	BundleBasic  Bundle = 0x01
	BundlePro    Bundle = 0x02
	BundleStudio Bundle = 0x03
)

// bundleActions is the static bundle expansion table. Admin actions never
// appear here; activation codes cannot mint elevated access.
var bundleActions = map[Bundle][]string{
	BundleBasic: {
		"save.inspect",
	},
	BundlePro: {
		"save.modify",
		"save.inspect",
		"save.backup.manage",
		"ui.themes",
	},
	BundleStudio: {
		"save.modify",
		"save.inspect",
		"save.backup.manage",
		"ui.themes",
		"analytics.export",
		"map.overlay",
	},
}

// String returns the bundle's display name
func (b Bundle) String() string {
	switch b {
	case BundleBasic:
		return "basic"
	case BundlePro:
		return "pro"
	case BundleStudio:
		return "studio"
	default:
		return fmt.Sprintf("bundle(0x%02x)", byte(b))
	}
}

// ParseBundle resolves a display name to a bundle
func ParseBundle(name string) (Bundle, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "basic":
		return BundleBasic, nil
	case "pro":
		return BundlePro, nil
	case "studio":
		return BundleStudio, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownBundle, name)
	}
}

// Actions returns the capability actions a bundle expands to
func Actions(b Bundle) ([]string, bool) {
	actions, ok := bundleActions[b]
	if !ok {
		return nil, false
	}
	out := make([]string, len(actions))
	copy(out, actions)
	return out, true
}

// PaidActions returns the deduplicated union of every bundle's actions.
// Admin elevation grants this set alongside the admin-only actions.
func PaidActions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, b := range []Bundle{BundleBasic, BundlePro, BundleStudio} {
		for _, a := range bundleActions[b] {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}

// CodeEngine generates and validates activation codes. A code is stateless
// proof of authenticity; redemption state lives in the Redeemer's ledger.
type CodeEngine struct {
	key []byte
}

// NewCodeEngine creates an engine with the given activation HMAC key
func NewCodeEngine(activationKey []byte) (*CodeEngine, error) {
	if len(activationKey) == 0 {
		return nil, fmt.Errorf("activation key cannot be empty")
	}
	return &CodeEngine{key: activationKey}, nil
}

// Generate builds a fresh code for the bundle in canonical grouped form
func (e *CodeEngine) Generate(b Bundle) (string, error) {
	if _, ok := bundleActions[b]; !ok {
		return "", fmt.Errorf("%w: 0x%02x", ErrUnknownBundle, byte(b))
	}

	payload := make([]byte, payloadLen)
	payload[0] = byte(b)
	payload[1] = 0 // flags, reserved
	if _, err := rand.Read(payload[2:macInputLen]); err != nil {
		return "", fmt.Errorf("failed to generate code nonce: %w", err)
	}
	copy(payload[macInputLen:], e.tag(payload[:macInputLen]))

	return Format(hex.EncodeToString(payload)), nil
}

// Validate normalizes and verifies a code, returning its bundle. The tag
// comparison is constant-time.
func (e *CodeEngine) Validate(code string) (Bundle, error) {
	normalized := Normalize(code)
	if len(normalized) != hexLen {
		return 0, fmt.Errorf("%w: expected %d hex characters, got %d", ErrMalformedCode, hexLen, len(normalized))
	}
	payload, err := hex.DecodeString(normalized)
	if err != nil {
		return 0, fmt.Errorf("%w: not valid hex", ErrMalformedCode)
	}

	expected := e.tag(payload[:macInputLen])
	if !hmac.Equal(payload[macInputLen:], expected) {
		return 0, ErrInvalidCode
	}

	b := Bundle(payload[0])
	if _, ok := bundleActions[b]; !ok {
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownBundle, payload[0])
	}
	return b, nil
}

// tag computes the truncated authenticity tag over the MAC input
func (e *CodeEngine) tag(input []byte) []byte {
	mac := hmac.New(sha256.New, e.key)
	mac.Write(input)
	return mac.Sum(nil)[:tagLen]
}

// Normalize strips the prefix, dashes and spaces and uppercases the rest.
// The result is the canonical ledger form: 20 bare hex characters.
func Normalize(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimPrefix(s, CodePrefix)
	return s
}

// Format renders 20 hex characters in the canonical grouped form with prefix
func Format(hexCode string) string {
	hexCode = strings.ToUpper(hexCode)
	groups := make([]string, 0, hexLen/groupLen+1)
	groups = append(groups, CodePrefix)
	for i := 0; i < len(hexCode); i += groupLen {
		end := i + groupLen
		if end > len(hexCode) {
			end = len(hexCode)
		}
		groups = append(groups, hexCode[i:end])
	}
	return strings.Join(groups, "-")
}
