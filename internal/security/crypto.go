package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
)

// Envelope wire format: nonce(12) ‖ tag(16) ‖ ciphertext. The tag is stored
// before the ciphertext; changing the layout breaks every existing file.
const (
	NonceSize = 12 // 96-bit GCM nonce
	TagSize   = 16 // 128-bit authentication tag

	envelopeOverhead = NonceSize + TagSize
)

// ErrTampered is returned when authenticated decryption fails. The key is
// deterministic per machine, so a tag mismatch means tampering or corruption,
// never a wrong password.
var ErrTampered = errors.New("authenticated decryption failed: data tampered or corrupted")

// Seal encrypts plaintext with AES-256-GCM under key and returns the
// envelope bytes. A fresh random nonce is generated per call.
func Seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal returns ciphertext ‖ tag; the envelope stores tag first
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	blob := make([]byte, 0, envelopeOverhead+len(ciphertext))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)
	return blob, nil
}

// Open authenticates and decrypts an envelope produced by Seal. Any
// modification of the blob yields ErrTampered.
func Open(key, blob []byte) ([]byte, error) {
	if len(blob) < envelopeOverhead {
		return nil, ErrTampered
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := blob[:NonceSize]
	tag := blob[NonceSize:envelopeOverhead]
	ciphertext := blob[envelopeOverhead:]

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrTampered
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SecureCompare performs constant-time comparison to prevent timing attacks
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
