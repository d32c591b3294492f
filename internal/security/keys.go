package security

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// AppID identifies this application in the machine seed. Changing it
// invalidates every machine-bound key.
const AppID = "arcavault"

// Context labels for key derivation. Every logical purpose uses a unique,
// versioned label so compromise in one domain cannot be reused in another.
// The labels are part of the on-disk contract; changing one invalidates all
// material derived under it.
const (
	LabelCapabilitySigning    = "arcavault.v1.capability.signing"
	LabelCapabilityEncryption = "arcavault.v1.capability.encryption"
	LabelAdminSigning         = "arcavault.v1.admin.signing"
	LabelAdminBreakGlass      = "arcavault.v1.admin.breakglass"
	LabelActivationHMAC       = "arcavault.v1.activation.hmac"
)

// KeyLength is the length in bytes of every derived key (AES-256 / HMAC-SHA256).
const KeyLength = 32

// vendorSeed is the fixed base material for keys that must be authorable
// anywhere and verifiable everywhere (admin signing, activation codes).
// It is embedded in every build and deliberately not machine-bound.
var vendorSeed = []byte("arcavault-vendor-root-v1-2025-10")

// DeriveKey derives a key of the given length from base material and a
// context label using single-step HKDF-SHA256 extract-and-expand.
func DeriveKey(base []byte, length int, label string) ([]byte, error) {
	if len(base) == 0 {
		return nil, fmt.Errorf("base key material cannot be empty")
	}
	if length <= 0 {
		return nil, fmt.Errorf("key length must be positive, got %d", length)
	}
	if label == "" {
		return nil, fmt.Errorf("context label cannot be empty")
	}

	key := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, base, nil, []byte(label)), key); err != nil {
		return nil, fmt.Errorf("key derivation failed for %q: %w", label, err)
	}
	return key, nil
}

// KeySet holds every derived key for one process. Keys are derived at
// construction and held only in memory; they are never persisted.
type KeySet struct {
	Signing    []byte // capability signing, machine-bound
	Encryption []byte // store/token encryption, machine-bound
	Admin      []byte // admin token signing, portable
	BreakGlass []byte // break-glass response HMAC, portable
	Activation []byte // activation code HMAC, portable

	machineSeed []byte
}

// NewKeySet derives the full key hierarchy for this machine.
func NewKeySet(fp *Fingerprinter) (*KeySet, error) {
	seed, err := fp.MachineSeed()
	if err != nil {
		return nil, fmt.Errorf("failed to derive machine seed: %w", err)
	}
	ks, err := newPortableKeySet()
	if err != nil {
		return nil, err
	}
	ks.machineSeed = seed

	if ks.Signing, err = DeriveKey(seed, KeyLength, LabelCapabilitySigning); err != nil {
		return nil, err
	}
	if ks.Encryption, err = DeriveKey(seed, KeyLength, LabelCapabilityEncryption); err != nil {
		return nil, err
	}
	return ks, nil
}

// NewAuthoringKeySet derives only the portable keys (admin signing,
// break-glass, activation). It is used by offline authoring tools that run
// on a different machine than the one being licensed.
func NewAuthoringKeySet() (*KeySet, error) {
	return newPortableKeySet()
}

func newPortableKeySet() (*KeySet, error) {
	var (
		ks  KeySet
		err error
	)
	if ks.Admin, err = DeriveKey(vendorSeed, KeyLength, LabelAdminSigning); err != nil {
		return nil, err
	}
	if ks.BreakGlass, err = DeriveKey(ks.Admin, KeyLength, LabelAdminBreakGlass); err != nil {
		return nil, err
	}
	if ks.Activation, err = DeriveKey(vendorSeed, KeyLength, LabelActivationHMAC); err != nil {
		return nil, err
	}
	return &ks, nil
}

// MachineSeed returns the machine seed the machine-bound keys were derived
// from. Empty for authoring key sets.
func (k *KeySet) MachineSeed() []byte {
	return k.machineSeed
}
