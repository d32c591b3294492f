package admin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"arcavault/internal/activation"
	"arcavault/internal/audit"
	"arcavault/internal/capability"
	"arcavault/internal/config"
	"arcavault/internal/entitlement"
	"arcavault/internal/security"
)

// fakeEntitlements mimics the entitlement service's store semantics: grants
// accumulate, revocation is logical, checks skip revoked records.
type fakeEntitlements struct {
	grants  []capability.Capability
	revoked []string
	seq     int
}

func (f *fakeEntitlements) CheckEntitlement(ctx context.Context, action, scope string) (capability.Capability, error) {
	for _, c := range f.grants {
		if c.Action != action || c.GameScope != scope {
			continue
		}
		if f.isRevoked(c.ID) {
			continue
		}
		return c, nil
	}
	return capability.Capability{}, entitlement.ErrNoValidCapability
}

func (f *fakeEntitlements) GrantCapability(ctx context.Context, action, scope string, lifetime time.Duration) (capability.Capability, error) {
	f.seq++
	c := capability.Capability{
		ID:        fmt.Sprintf("%s/%s#%d", action, scope, f.seq),
		Action:    action,
		GameScope: scope,
	}
	f.grants = append(f.grants, c)
	return c, nil
}

func (f *fakeEntitlements) RevokeCapabilitiesByAction(ctx context.Context, action string) ([]string, error) {
	var ids []string
	for _, c := range f.grants {
		if c.Action == action && !f.isRevoked(c.ID) {
			f.revoked = append(f.revoked, c.ID)
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

func (f *fakeEntitlements) isRevoked(id string) bool {
	for _, r := range f.revoked {
		if r == id {
			return true
		}
	}
	return false
}

func (f *fakeEntitlements) grantedActions() []string {
	var out []string
	for _, c := range f.grants {
		out = append(out, c.Action)
	}
	return out
}

func (f *fakeEntitlements) liveActions() []string {
	var out []string
	for _, c := range f.grants {
		if !f.isRevoked(c.ID) {
			out = append(out, c.Action)
		}
	}
	return out
}

type adminHarness struct {
	svc   *Service
	ents  *fakeEntitlements
	audit *audit.Logger
	keys  *security.KeySet
	path  string
}

func newAdminHarness(t *testing.T, cfg config.AdminConfig, limiter *rate.Limiter) *adminHarness {
	t.Helper()
	dir := t.TempDir()

	keys, err := security.NewKeySet(security.NewFingerprinterFor("test-host", "test-user"))
	require.NoError(t, err)

	auditLog := audit.NewLogger(filepath.Join(dir, "audit.log"))
	detector := security.NewTamperDetector(filepath.Join(dir, "integrity.dat"), auditLog)
	ents := &fakeEntitlements{}

	svc, err := NewService(filepath.Join(dir, "admin_token.dat"), keys, detector,
		auditLog, ents, nil, cfg, limiter)
	require.NoError(t, err)

	return &adminHarness{
		svc:   svc,
		ents:  ents,
		audit: auditLog,
		keys:  keys,
		path:  filepath.Join(dir, "admin_token.dat"),
	}
}

func productionConfig() config.AdminConfig {
	return config.AdminConfig{ProductionBuild: true}
}

func TestActivateInjectsFullSet(t *testing.T) {
	h := newAdminHarness(t, productionConfig(), nil)
	ctx := context.Background()

	token, err := h.svc.Activate(ctx, "star_rupture", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, MethodTokenFile, token.Method)

	want := append([]string{ActionDiagnostics, ActionOverride}, activation.PaidActions()...)
	assert.ElementsMatch(t, want, h.ents.grantedActions())

	got, ok := h.svc.Current()
	require.True(t, ok)
	assert.Equal(t, token.ID, got.ID)
}

func TestActivatePersistsEncryptedToken(t *testing.T) {
	h := newAdminHarness(t, productionConfig(), nil)
	ctx := context.Background()

	token, err := h.svc.Activate(ctx, "star_rupture", time.Hour)
	require.NoError(t, err)

	raw, err := os.ReadFile(h.path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), token.ID)
	assert.NotContains(t, string(raw), "star_rupture")
}

func TestBootstrapRestoresPersistedToken(t *testing.T) {
	h := newAdminHarness(t, productionConfig(), nil)
	ctx := context.Background()

	token, err := h.svc.Activate(ctx, "star_rupture", time.Hour)
	require.NoError(t, err)

	// a fresh service over the same files picks the token back up
	ents2 := &fakeEntitlements{}
	svc2, err := NewService(h.path, h.keys, nil, h.audit, ents2, nil, productionConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, svc2.Bootstrap(ctx))

	got, ok := svc2.Current()
	require.True(t, ok)
	assert.Equal(t, token.ID, got.ID)
	assert.Contains(t, ents2.grantedActions(), ActionDiagnostics)
}

func TestBootstrapWithoutTokenIsQuiet(t *testing.T) {
	h := newAdminHarness(t, productionConfig(), nil)

	require.NoError(t, h.svc.Bootstrap(context.Background()))
	_, ok := h.svc.Current()
	assert.False(t, ok)
	assert.Empty(t, h.ents.grants)
}

func TestBootstrapTreatsTamperedTokenAsAbsent(t *testing.T) {
	h := newAdminHarness(t, productionConfig(), nil)
	ctx := context.Background()

	_, err := h.svc.Activate(ctx, "star_rupture", time.Hour)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(h.path, []byte("garbage"), 0600))

	ents2 := &fakeEntitlements{}
	svc2, err := NewService(h.path, h.keys, nil, h.audit, ents2, nil, productionConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, svc2.Bootstrap(ctx))

	_, ok := svc2.Current()
	assert.False(t, ok)
	assert.Empty(t, ents2.grants)

	entries, err := h.audit.Tail(ctx, 5)
	require.NoError(t, err)
	var tampered bool
	for _, e := range entries {
		if e.Outcome == audit.OutcomeTamperDetected {
			tampered = true
		}
	}
	assert.True(t, tampered, "tampering must land in the audit log")
}

func TestEnvElevationGatedByBuild(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name string
		cfg  config.AdminConfig
		want bool
	}{
		{"dev build with env enabled", config.AdminConfig{EnvEnabled: true, EnvScope: "star_rupture"}, true},
		{"production build ignores env", config.AdminConfig{ProductionBuild: true, EnvEnabled: true, EnvScope: "star_rupture"}, false},
		{"dev build without scope", config.AdminConfig{EnvEnabled: true}, false},
		{"dev build env disabled", config.AdminConfig{EnvScope: "star_rupture"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newAdminHarness(t, tc.cfg, nil)
			require.NoError(t, h.svc.Bootstrap(ctx))

			token, ok := h.svc.Current()
			assert.Equal(t, tc.want, ok)
			if tc.want {
				assert.Equal(t, MethodDebugEnvironment, token.Method)
				assert.NoFileExists(t, h.path, "environment tokens stay off disk")
			}
		})
	}
}

func TestRevokeAdminClearsEverything(t *testing.T) {
	h := newAdminHarness(t, productionConfig(), nil)
	ctx := context.Background()

	_, err := h.svc.Activate(ctx, "star_rupture", time.Hour)
	require.NoError(t, err)
	require.NoError(t, h.svc.RevokeAdmin(ctx))

	_, ok := h.svc.Current()
	assert.False(t, ok)
	assert.NoFileExists(t, h.path)

	// the admin-only capabilities are gone; paid grants stay
	live := h.ents.liveActions()
	assert.NotContains(t, live, ActionDiagnostics)
	assert.NotContains(t, live, ActionOverride)
	assert.Contains(t, live, "save.modify")
}

func TestRevokeAdminCoversPriorProcessGrants(t *testing.T) {
	h := newAdminHarness(t, productionConfig(), nil)
	ctx := context.Background()

	_, err := h.svc.Activate(ctx, "star_rupture", time.Hour)
	require.NoError(t, err)

	// a second service over the same token file and the same persisted
	// grants, as after a process restart
	svc2, err := NewService(h.path, h.keys, nil, h.audit, h.ents, nil, productionConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, svc2.Bootstrap(ctx))
	require.NoError(t, svc2.RevokeAdmin(ctx))

	live := h.ents.liveActions()
	assert.NotContains(t, live, ActionOverride, "first process' grant must not survive revocation")
	assert.NotContains(t, live, ActionDiagnostics)
}

func TestBootstrapInjectionIsIdempotent(t *testing.T) {
	h := newAdminHarness(t, productionConfig(), nil)
	ctx := context.Background()

	_, err := h.svc.Activate(ctx, "star_rupture", time.Hour)
	require.NoError(t, err)
	granted := len(h.ents.grants)

	// repeated bootstraps over a still-valid token reuse the stored grants
	svc2, err := NewService(h.path, h.keys, nil, h.audit, h.ents, nil, productionConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, svc2.Bootstrap(ctx))

	assert.Len(t, h.ents.grants, granted, "bootstrap must not duplicate live grants")
}

func TestRevokeAdminWithoutTokenSucceeds(t *testing.T) {
	h := newAdminHarness(t, productionConfig(), nil)
	assert.NoError(t, h.svc.RevokeAdmin(context.Background()))
}

func TestCurrentExpiresWithToken(t *testing.T) {
	h := newAdminHarness(t, productionConfig(), nil)
	ctx := context.Background()

	_, err := h.svc.Activate(ctx, "star_rupture", time.Hour)
	require.NoError(t, err)

	h.svc.signer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, ok := h.svc.Current()
	assert.False(t, ok, "an expired token must not be reported as live")
}
