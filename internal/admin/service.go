package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"arcavault/internal/activation"
	"arcavault/internal/audit"
	"arcavault/internal/capability"
	"arcavault/internal/config"
	"arcavault/internal/files"
	"arcavault/internal/infrastructure"
	"arcavault/internal/security"
)

// tokenState tracks the token-file elevation state machine.
type tokenState int

const (
	stateNoToken tokenState = iota
	stateLoaded
	stateValidated
	stateInjected
)

// Entitlements is the slice of the entitlement service the admin engine
// needs. All grants and revocations go through it; the admin engine never
// touches the capability store directly.
type Entitlements interface {
	CheckEntitlement(ctx context.Context, action, scope string) (capability.Capability, error)
	GrantCapability(ctx context.Context, action, scope string, lifetime time.Duration) (capability.Capability, error)
	RevokeCapabilitiesByAction(ctx context.Context, action string) ([]string, error)
}

// ErrNoAdminToken is returned when an operation needs a live token and none
// is present.
var ErrNoAdminToken = errors.New("no admin token")

// Service owns the admin token file and the elevation paths. The current
// token is explicit instance state, re-validated on every read rather than
// trusted indefinitely.
type Service struct {
	tokenPath string
	signer    *Signer
	keys      *security.KeySet
	detector  *security.TamperDetector
	audit     *audit.Logger
	ents      Entitlements
	metrics   *infrastructure.Metrics
	cfg       config.AdminConfig
	bgLimiter *rate.Limiter

	sem *semaphore.Weighted // serializes token file read-modify-write

	mu      sync.RWMutex
	current *Token
	state   tokenState
}

// NewService creates the admin engine. audit, detector, metrics and
// bgLimiter may be nil.
func NewService(tokenPath string, keys *security.KeySet, detector *security.TamperDetector,
	auditLog *audit.Logger, ents Entitlements, metrics *infrastructure.Metrics,
	cfg config.AdminConfig, bgLimiter *rate.Limiter) (*Service, error) {
	signer, err := NewSigner(keys.Admin)
	if err != nil {
		return nil, err
	}
	return &Service{
		tokenPath: tokenPath,
		signer:    signer,
		keys:      keys,
		detector:  detector,
		audit:     auditLog,
		ents:      ents,
		metrics:   metrics,
		cfg:       cfg,
		bgLimiter: bgLimiter,
		sem:       semaphore.NewWeighted(1),
	}, nil
}

// Bootstrap runs the startup elevation paths: the token file first, then the
// environment path when this is not a production build. Both feed the same
// injection routine. A missing or invalid token is not an error; the process
// simply starts without elevation.
func (s *Service) Bootstrap(ctx context.Context) error {
	t, err := s.loadTokenFile(ctx)
	if err != nil {
		return err
	}
	if t != nil {
		s.setState(stateLoaded)
		if err := s.signer.Validate(*t); err != nil {
			infrastructure.LoggerFromContext(ctx).Warn("Stored admin token rejected",
				slog.String("token_id", t.ID),
				slog.String("reason", err.Error()),
			)
			s.setState(stateNoToken)
		} else {
			s.setState(stateValidated)
			if err := s.inject(ctx, *t); err != nil {
				return err
			}
		}
	}

	if !s.cfg.ProductionBuild && s.cfg.EnvEnabled && s.cfg.EnvScope != "" {
		t, err := s.signer.Mint(s.cfg.EnvScope, EnvLifetime, MethodDebugEnvironment)
		if err != nil {
			return err
		}
		// Environment tokens live only in memory, never on disk
		if err := s.inject(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Activate mints a token-file admin token for scope, persists it encrypted
// (replacing any existing token) and injects its capability set. The
// lifetime is clamped to MaxLifetime.
func (s *Service) Activate(ctx context.Context, scope string, lifetime time.Duration) (Token, error) {
	t, err := s.signer.Mint(scope, lifetime, MethodTokenFile)
	if err != nil {
		return Token{}, err
	}
	if err := s.persistToken(ctx, t); err != nil {
		return Token{}, err
	}
	if err := s.inject(ctx, t); err != nil {
		return Token{}, err
	}

	if s.audit != nil {
		s.audit.Record(ctx, audit.Entry{
			Action:    "admin.activate",
			GameScope: scope,
			Detail:    fmt.Sprintf("method %s, expires %s", t.Method, t.ExpiresAt.Format(time.RFC3339)),
			Outcome:   audit.OutcomeSuccess,
		})
	}
	return t, nil
}

// Current returns the live admin token, re-validating it before answering.
// An expired or missing token yields false.
func (s *Service) Current() (Token, bool) {
	s.mu.RLock()
	t := s.current
	s.mu.RUnlock()

	if t == nil {
		return Token{}, false
	}
	if err := s.signer.Validate(*t); err != nil {
		return Token{}, false
	}
	return *t, true
}

// RevokeAdmin deletes the token file, revokes every stored admin-only
// capability and drops the cached token. Revocation works against the store,
// not a per-process cache, so grants injected by earlier processes are
// covered too. The in-memory token must never outlive revocation.
func (s *Service) RevokeAdmin(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := os.Remove(s.tokenPath); err != nil && !os.IsNotExist(err) {
		s.sem.Release(1)
		return fmt.Errorf("failed to delete admin token file: %w", err)
	}
	if s.detector != nil {
		s.detector.Forget(ctx, s.tokenPath)
	}
	s.sem.Release(1)

	s.mu.Lock()
	s.current = nil
	s.state = stateNoToken
	s.mu.Unlock()

	for _, action := range []string{ActionDiagnostics, ActionOverride} {
		if _, err := s.ents.RevokeCapabilitiesByAction(ctx, action); err != nil {
			return fmt.Errorf("failed to revoke %s capabilities: %w", action, err)
		}
	}

	if s.audit != nil {
		s.audit.Record(ctx, audit.Entry{
			Action:  "admin.revoke",
			Outcome: audit.OutcomeSuccess,
		})
	}
	infrastructure.LoggerFromContext(ctx).Info("Admin access revoked")
	return nil
}

// inject grants the elevated capability set for the token: the two
// admin-only actions plus all paid actions for the token's scope, each with
// the token's remaining lifetime. Injection is idempotent: an action already
// covered by a valid stored capability is reused, so repeated bootstraps over
// the same token do not accumulate duplicate grants.
func (s *Service) inject(ctx context.Context, t Token) error {
	remaining := t.Remaining(time.Now().UTC())
	if remaining <= 0 {
		return ErrTokenExpired
	}

	actions := append([]string{ActionDiagnostics, ActionOverride}, activation.PaidActions()...)
	for _, action := range actions {
		if _, err := s.ents.CheckEntitlement(ctx, action, t.Scope); err == nil {
			continue
		}
		if _, err := s.ents.GrantCapability(ctx, action, t.Scope, remaining); err != nil {
			return fmt.Errorf("failed to grant %s: %w", action, err)
		}
	}

	s.mu.Lock()
	s.current = &t
	s.state = stateInjected
	s.mu.Unlock()

	s.metrics.RecordElevation(ctx, string(t.Method))
	infrastructure.LoggerFromContext(ctx).Info("Admin capabilities injected",
		slog.String("token_id", t.ID),
		slog.String("scope", t.Scope),
		slog.String("method", string(t.Method)),
		slog.Duration("remaining", remaining),
	)
	return nil
}

// loadTokenFile reads and decrypts the token file. A missing file yields
// (nil, nil). Tampered or corrupted files are audited and treated as absent.
func (s *Service) loadTokenFile(ctx context.Context) (*Token, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	if !files.Exists(s.tokenPath) {
		return nil, nil
	}

	if s.detector != nil {
		ok, err := s.detector.VerifyIntegrity(ctx, s.tokenPath)
		if err != nil {
			return nil, fmt.Errorf("token integrity check failed: %w", err)
		}
		if !ok {
			return nil, nil
		}
	}

	blob, err := os.ReadFile(s.tokenPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read admin token file: %w", err)
	}
	plaintext, err := security.Open(s.keys.Encryption, blob)
	if err != nil {
		slog.Warn("Admin token file failed authenticated decryption, treating as absent",
			slog.String("path", s.tokenPath),
		)
		if s.audit != nil {
			s.audit.RecordTamper(ctx, s.tokenPath, "authenticated decryption failed")
		}
		return nil, nil
	}

	var t Token
	if err := json.Unmarshal(plaintext, &t); err != nil {
		if s.audit != nil {
			s.audit.RecordTamper(ctx, s.tokenPath, "malformed token document")
		}
		return nil, nil
	}
	return &t, nil
}

// persistToken encrypts and atomically writes the token file, then records
// its checksum. At most one live token exists; re-activation replaces it.
func (s *Service) persistToken(ctx context.Context, t Token) error {
	plaintext, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal admin token: %w", err)
	}
	blob, err := security.Seal(s.keys.Encryption, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt admin token: %w", err)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	if err := files.WriteAtomic(s.tokenPath, blob, 0600); err != nil {
		return fmt.Errorf("failed to write admin token file: %w", err)
	}
	if s.detector != nil {
		if err := s.detector.UpdateChecksum(ctx, s.tokenPath); err != nil {
			return fmt.Errorf("failed to update token checksum: %w", err)
		}
	}
	return nil
}

func (s *Service) setState(st tokenState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
