package entitlement

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcavault/internal/audit"
	"arcavault/internal/capability"
	"arcavault/internal/security"
)

func newTestService(t *testing.T) (*Service, *audit.Logger) {
	t.Helper()
	dir := t.TempDir()

	signingKey := make([]byte, security.KeyLength)
	encryptionKey := make([]byte, security.KeyLength)
	_, err := rand.Read(signingKey)
	require.NoError(t, err)
	_, err = rand.Read(encryptionKey)
	require.NoError(t, err)

	auditLog := audit.NewLogger(filepath.Join(dir, "audit.log"))
	detector := security.NewTamperDetector(filepath.Join(dir, "integrity.dat"), auditLog)
	store, err := capability.NewStore(filepath.Join(dir, "capabilities.dat"), encryptionKey, detector, auditLog)
	require.NoError(t, err)
	issuer, err := capability.NewIssuer(signingKey)
	require.NoError(t, err)
	validator, err := capability.NewValidator(signingKey)
	require.NoError(t, err)
	consent := NewConsentLedger(filepath.Join(dir, "consent.json"))

	return NewService(store, issuer, validator, auditLog, consent, nil), auditLog
}

func TestGrantThenCheck(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	granted, err := svc.GrantCapability(ctx, "save.modify", "star_rupture", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, granted.ID)

	got, err := svc.CheckEntitlement(ctx, "save.modify", "star_rupture")
	require.NoError(t, err)
	assert.Equal(t, granted.ID, got.ID)
}

func TestCheckWithoutGrant(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CheckEntitlement(context.Background(), "save.modify", "star_rupture")
	assert.ErrorIs(t, err, ErrNoValidCapability)
}

func TestCheckScopeMismatchReason(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GrantCapability(ctx, "save.modify", "star_rupture", time.Hour)
	require.NoError(t, err)

	// a capability for the action exists, but for a different game
	_, err = svc.CheckEntitlement(ctx, "save.modify", "other_game")
	assert.ErrorIs(t, err, capability.ErrScopeMismatch)
}

func TestCheckExpiredReason(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GrantCapability(ctx, "save.modify", "star_rupture", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	_, err = svc.CheckEntitlement(ctx, "save.modify", "star_rupture")
	assert.ErrorIs(t, err, capability.ErrExpired)
}

func TestRevokedCapabilityIsSkipped(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	granted, err := svc.GrantCapability(ctx, "save.modify", "star_rupture", time.Hour)
	require.NoError(t, err)
	require.NoError(t, svc.RevokeCapability(ctx, granted.ID))

	// the signature is still valid; revocation alone must deny
	_, err = svc.CheckEntitlement(ctx, "save.modify", "star_rupture")
	assert.ErrorIs(t, err, ErrNoValidCapability)
}

func TestRevokeCapabilitiesByAction(t *testing.T) {
	svc, auditLog := newTestService(t)
	ctx := context.Background()

	_, err := svc.GrantCapability(ctx, "admin.override", "star_rupture", time.Hour)
	require.NoError(t, err)
	_, err = svc.GrantCapability(ctx, "admin.override", "other_game", time.Hour)
	require.NoError(t, err)
	_, err = svc.GrantCapability(ctx, "save.modify", "star_rupture", time.Hour)
	require.NoError(t, err)

	ids, err := svc.RevokeCapabilitiesByAction(ctx, "admin.override")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	for _, scope := range []string{"star_rupture", "other_game"} {
		_, err := svc.CheckEntitlement(ctx, "admin.override", scope)
		assert.Error(t, err, "scope %s", scope)
	}
	_, err = svc.CheckEntitlement(ctx, "save.modify", "star_rupture")
	assert.NoError(t, err, "other actions survive")

	entries, err := auditLog.Tail(ctx, 10)
	require.NoError(t, err)
	var revocations int
	for _, e := range entries {
		if e.Action == "capability.revoke" {
			revocations++
		}
	}
	assert.Equal(t, 2, revocations, "each revoked id is audited")
}

func TestWildcardGrantCoversAnyScope(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GrantCapability(ctx, "save.inspect", capability.WildcardScope, 0)
	require.NoError(t, err)

	for _, scope := range []string{"star_rupture", "other_game"} {
		_, err := svc.CheckEntitlement(ctx, "save.inspect", scope)
		assert.NoError(t, err, "scope %s", scope)
	}
}

func TestGrantWritesAuditEntry(t *testing.T) {
	svc, auditLog := newTestService(t)
	ctx := context.Background()

	granted, err := svc.GrantCapability(ctx, "save.modify", "star_rupture", time.Hour)
	require.NoError(t, err)

	entries, err := auditLog.Tail(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	last := entries[len(entries)-1]
	assert.Equal(t, "capability.grant", last.Action)
	assert.Equal(t, granted.ID, last.CapabilityID)
	assert.Equal(t, audit.OutcomeSuccess, last.Outcome)
}

func TestPurgeExpired(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GrantCapability(ctx, "save.modify", "star_rupture", time.Nanosecond)
	require.NoError(t, err)
	_, err = svc.GrantCapability(ctx, "save.inspect", "star_rupture", time.Hour)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	n, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConsentLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ok, err := svc.HasConsent(ctx, "star_rupture")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.RecordConsent(ctx, "star_rupture", "first_run_dialog"))

	ok, err = svc.HasConsent(ctx, "star_rupture")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasConsent(ctx, "other_game")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNilConsentLedgerAllowsEverything(t *testing.T) {
	svc, _ := newTestService(t)
	svc.consent = nil

	ok, err := svc.HasConsent(context.Background(), "star_rupture")
	require.NoError(t, err)
	assert.True(t, ok)
}
