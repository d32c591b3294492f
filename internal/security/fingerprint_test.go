package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineSeedDeterministic(t *testing.T) {
	a, err := NewFingerprinterFor("Host-1", "Alice").MachineSeed()
	require.NoError(t, err)
	b, err := NewFingerprinterFor("host-1", "alice").MachineSeed()
	require.NoError(t, err)

	// factors are normalized, so case differences do not change the seed
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestMachineSeedVariesByFactor(t *testing.T) {
	base, err := NewFingerprinterFor("host", "user").MachineSeed()
	require.NoError(t, err)

	otherHost, err := NewFingerprinterFor("host-2", "user").MachineSeed()
	require.NoError(t, err)
	otherUser, err := NewFingerprinterFor("host", "user-2").MachineSeed()
	require.NoError(t, err)

	assert.NotEqual(t, base, otherHost)
	assert.NotEqual(t, base, otherUser)
}

func TestMachineSeedCached(t *testing.T) {
	fp := NewFingerprinter()

	a, err := fp.MachineSeed()
	require.NoError(t, err)
	b, err := fp.MachineSeed()
	require.NoError(t, err)

	assert.Equal(t, a, b)
}
