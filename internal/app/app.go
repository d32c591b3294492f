// Package app wires the engine together: keys, stores, services and the
// elevation paths, in dependency order. Embedding applications and the CLIs
// construct one Engine per process.
package app

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"arcavault/internal/activation"
	"arcavault/internal/admin"
	"arcavault/internal/audit"
	"arcavault/internal/capability"
	"arcavault/internal/config"
	"arcavault/internal/entitlement"
	"arcavault/internal/infrastructure"
	"arcavault/internal/security"
)

// Engine is the assembled authorization and licensing core.
type Engine struct {
	Config       *config.Config
	Paths        *config.Paths
	Audit        *audit.Logger
	Detector     *security.TamperDetector
	Entitlements *entitlement.Service
	Codes        *activation.CodeEngine
	Redeemer     *activation.Redeemer
	Admin        *admin.Service

	keys *security.KeySet
}

// New builds the engine from configuration. All keys are re-derived here;
// nothing key-shaped is read from disk.
func New(cfg *config.Config) (*Engine, error) {
	paths, err := config.GetPaths(cfg.Paths.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	keys, err := security.NewKeySet(security.NewFingerprinter())
	if err != nil {
		return nil, fmt.Errorf("failed to derive keys: %w", err)
	}

	metrics, err := infrastructure.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	auditLog := audit.NewLogger(paths.AuditLogFile).WithMetrics(metrics)
	detector := security.NewTamperDetector(paths.IntegrityFile, auditLog)

	store, err := capability.NewStore(paths.CapabilitiesFile, keys.Encryption, detector, auditLog)
	if err != nil {
		return nil, err
	}
	issuer, err := capability.NewIssuer(keys.Signing)
	if err != nil {
		return nil, err
	}
	validator, err := capability.NewValidator(keys.Signing)
	if err != nil {
		return nil, err
	}

	consent := entitlement.NewConsentLedger(paths.ConsentFile)
	ents := entitlement.NewService(store, issuer, validator, auditLog, consent, metrics)

	codes, err := activation.NewCodeEngine(keys.Activation)
	if err != nil {
		return nil, err
	}
	redeemLimiter := rate.NewLimiter(rate.Limit(cfg.Security.RedeemRatePerMinute/60), cfg.Security.RedeemBurst)
	redeemer := activation.NewRedeemer(codes, paths.RedeemedCodesFile, ents, auditLog, metrics, redeemLimiter)

	bgLimiter := rate.NewLimiter(rate.Limit(cfg.Security.BreakGlassRatePerMinute/60), cfg.Security.BreakGlassBurst)
	adminSvc, err := admin.NewService(paths.AdminTokenFile, keys, detector, auditLog, ents, metrics, cfg.Admin, bgLimiter)
	if err != nil {
		return nil, err
	}

	return &Engine{
		Config:       cfg,
		Paths:        paths,
		Audit:        auditLog,
		Detector:     detector,
		Entitlements: ents,
		Codes:        codes,
		Redeemer:     redeemer,
		Admin:        adminSvc,
		keys:         keys,
	}, nil
}

// Bootstrap runs the startup elevation paths (admin token file, environment).
func (e *Engine) Bootstrap(ctx context.Context) error {
	return e.Admin.Bootstrap(ctx)
}

// MachineSeed exposes the machine seed for support tooling (break-glass
// response computation happens off-machine against this value).
func (e *Engine) MachineSeed() []byte {
	return e.keys.MachineSeed()
}
