package capability

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcavault/internal/security"
)

func testSigningKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, security.KeyLength)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func newIssuerValidator(t *testing.T) (*Issuer, *Validator) {
	t.Helper()
	key := testSigningKey(t)
	issuer, err := NewIssuer(key)
	require.NoError(t, err)
	validator, err := NewValidator(key)
	require.NoError(t, err)
	return issuer, validator
}

func TestIssueValidateRoundTrip(t *testing.T) {
	issuer, validator := newIssuerValidator(t)

	c, err := issuer.Issue("save.modify", "star_rupture", time.Hour)
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.NotEmpty(t, c.Signature)
	require.NotNil(t, c.ExpiresAt)
	assert.NoError(t, validator.Validate(c, "save.modify", "star_rupture"))
}

func TestIssueWithoutLifetimeNeverExpires(t *testing.T) {
	issuer, validator := newIssuerValidator(t)

	c, err := issuer.Issue("save.inspect", "star_rupture", 0)
	require.NoError(t, err)

	assert.Nil(t, c.ExpiresAt)
	assert.False(t, c.Expired(time.Now().Add(100*365*24*time.Hour)))
	assert.NoError(t, validator.Validate(c, "save.inspect", "star_rupture"))
}

func TestValidateExpired(t *testing.T) {
	issuer, validator := newIssuerValidator(t)

	c, err := issuer.Issue("save.modify", "star_rupture", time.Hour)
	require.NoError(t, err)

	validator.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.ErrorIs(t, validator.Validate(c, "save.modify", "star_rupture"), ErrExpired)
}

func TestValidateActionMismatch(t *testing.T) {
	issuer, validator := newIssuerValidator(t)

	c, err := issuer.Issue("save.modify", "star_rupture", time.Hour)
	require.NoError(t, err)

	assert.ErrorIs(t, validator.Validate(c, "save.inspect", "star_rupture"), ErrActionMismatch)
}

func TestValidateScopeRules(t *testing.T) {
	issuer, validator := newIssuerValidator(t)

	tests := []struct {
		name           string
		issuedScope    string
		requestedScope string
		wantErr        error
	}{
		{name: "exact match", issuedScope: "star_rupture", requestedScope: "star_rupture", wantErr: nil},
		{name: "wildcard matches any concrete scope", issuedScope: WildcardScope, requestedScope: "star_rupture", wantErr: nil},
		{name: "wildcard matches another scope", issuedScope: WildcardScope, requestedScope: "other_game", wantErr: nil},
		{name: "concrete never matches different concrete", issuedScope: "star_rupture", requestedScope: "other_game", wantErr: ErrScopeMismatch},
		{name: "concrete never matches requested wildcard", issuedScope: "star_rupture", requestedScope: WildcardScope, wantErr: ErrScopeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := issuer.Issue("save.modify", tt.issuedScope, time.Hour)
			require.NoError(t, err)

			err = validator.Validate(c, "save.modify", tt.requestedScope)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDetectsFieldMutation(t *testing.T) {
	issuer, validator := newIssuerValidator(t)

	c, err := issuer.Issue("save.modify", "star_rupture", time.Hour)
	require.NoError(t, err)

	t.Run("mutated action", func(t *testing.T) {
		mutated := c
		mutated.Action = "save.modifz"
		assert.ErrorIs(t, validator.Validate(mutated, "save.modifz", "star_rupture"), ErrSignatureInvalid)
	})

	t.Run("mutated scope", func(t *testing.T) {
		mutated := c
		mutated.GameScope = "star_ruptures"
		assert.ErrorIs(t, validator.Validate(mutated, "save.modify", "star_ruptures"), ErrSignatureInvalid)
	})

	t.Run("mutated issued at", func(t *testing.T) {
		mutated := c
		mutated.IssuedAt = c.IssuedAt.Add(time.Second)
		assert.ErrorIs(t, validator.Validate(mutated, "save.modify", "star_rupture"), ErrSignatureInvalid)
	})

	t.Run("every signature byte flip fails", func(t *testing.T) {
		raw, err := hex.DecodeString(c.Signature)
		require.NoError(t, err)
		for i := range raw {
			flipped := make([]byte, len(raw))
			copy(flipped, raw)
			flipped[i] ^= 0x01

			mutated := c
			mutated.Signature = hex.EncodeToString(flipped)
			assert.ErrorIs(t, validator.Validate(mutated, "save.modify", "star_rupture"), ErrSignatureInvalid, "byte %d", i)
		}
	})

	t.Run("non-hex signature", func(t *testing.T) {
		mutated := c
		mutated.Signature = "zz" + c.Signature[2:]
		assert.ErrorIs(t, validator.Validate(mutated, "save.modify", "star_rupture"), ErrSignatureInvalid)
	})
}

func TestValidateWrongKey(t *testing.T) {
	issuer, _ := newIssuerValidator(t)
	_, otherValidator := newIssuerValidator(t)

	c, err := issuer.Issue("save.modify", "star_rupture", time.Hour)
	require.NoError(t, err)

	assert.ErrorIs(t, otherValidator.Validate(c, "save.modify", "star_rupture"), ErrSignatureInvalid)
}

func TestIssueRejectsEmptyFields(t *testing.T) {
	issuer, _ := newIssuerValidator(t)

	_, err := issuer.Issue("", "scope", time.Hour)
	assert.Error(t, err)
	_, err = issuer.Issue("action", "", time.Hour)
	assert.Error(t, err)
}
