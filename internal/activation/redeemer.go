package activation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"arcavault/internal/audit"
	"arcavault/internal/capability"
	"arcavault/internal/files"
	"arcavault/internal/infrastructure"
)

// Redemption failures.
var (
	// ErrAlreadyRedeemed is returned when a code was redeemed before. It is
	// a distinct condition, never a silent success.
	ErrAlreadyRedeemed = errors.New("code already activated")
	// ErrRateLimited is returned when redemption attempts come too fast.
	ErrRateLimited = errors.New("too many redemption attempts, try again later")
)

// Granter is the slice of the entitlement service the redeemer needs.
type Granter interface {
	GrantCapability(ctx context.Context, action, scope string, lifetime time.Duration) (capability.Capability, error)
}

// Redeemer turns validated codes into capability grants and tracks
// redemption in a normalized-code ledger so each code works at most once.
type Redeemer struct {
	engine  *CodeEngine
	ledger  string
	sem     *semaphore.Weighted
	grants  Granter
	audit   *audit.Logger
	metrics *infrastructure.Metrics
	limiter *rate.Limiter
}

// NewRedeemer creates a redeemer. audit, metrics and limiter may be nil.
func NewRedeemer(engine *CodeEngine, ledgerPath string, grants Granter,
	auditLog *audit.Logger, metrics *infrastructure.Metrics, limiter *rate.Limiter) *Redeemer {
	return &Redeemer{
		engine:  engine,
		ledger:  ledgerPath,
		sem:     semaphore.NewWeighted(1),
		grants:  grants,
		audit:   auditLog,
		metrics: metrics,
		limiter: limiter,
	}
}

// Redeem validates code, expands its bundle and grants every bundle action
// for scope through the entitlement service. The code is recorded as
// redeemed only if at least one grant succeeded. Individual grant failures
// after the first success do not roll back already-granted actions; the
// error reports what failed. Returns the actions actually granted.
func (r *Redeemer) Redeem(ctx context.Context, code, scope string) ([]string, error) {
	if r.limiter != nil && !r.limiter.Allow() {
		return nil, ErrRateLimited
	}

	bundle, err := r.engine.Validate(code)
	if err != nil {
		return nil, err
	}
	normalized := Normalize(code)

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	redeemed, err := r.load()
	if err != nil {
		return nil, err
	}
	for _, prior := range redeemed {
		if prior == normalized {
			if r.audit != nil {
				r.audit.Record(ctx, audit.Entry{
					Action:    "activation.redeem",
					GameScope: scope,
					Detail:    fmt.Sprintf("bundle %s: already activated", bundle),
					Outcome:   audit.OutcomeDenied,
				})
			}
			return nil, ErrAlreadyRedeemed
		}
	}

	actions, _ := Actions(bundle)
	var granted []string
	var grantErr error
	for _, action := range actions {
		if _, err := r.grants.GrantCapability(ctx, action, scope, 0); err != nil {
			if grantErr == nil {
				grantErr = fmt.Errorf("failed to grant %s: %w", action, err)
			}
			continue
		}
		granted = append(granted, action)
	}

	if len(granted) == 0 {
		return nil, fmt.Errorf("redemption granted nothing: %w", grantErr)
	}

	redeemed = append(redeemed, normalized)
	if err := r.persist(redeemed); err != nil {
		return granted, fmt.Errorf("granted %d actions but failed to record redemption: %w", len(granted), err)
	}

	if r.audit != nil {
		r.audit.Record(ctx, audit.Entry{
			Action:    "activation.redeem",
			GameScope: scope,
			Detail:    fmt.Sprintf("bundle %s: granted %d of %d actions", bundle, len(granted), len(actions)),
			Outcome:   audit.OutcomeSuccess,
		})
	}
	r.metrics.RecordRedemption(ctx, bundle.String())
	infrastructure.LoggerFromContext(ctx).Info("Activation code redeemed",
		slog.String("bundle", bundle.String()),
		slog.String("game_scope", scope),
		slog.Int("granted", len(granted)),
	)

	if grantErr != nil {
		return granted, grantErr
	}
	return granted, nil
}

func (r *Redeemer) load() ([]string, error) {
	data, err := os.ReadFile(r.ledger)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read redemption ledger: %w", err)
	}
	var redeemed []string
	if err := json.Unmarshal(data, &redeemed); err != nil {
		return nil, fmt.Errorf("failed to parse redemption ledger: %w", err)
	}
	return redeemed, nil
}

func (r *Redeemer) persist(redeemed []string) error {
	data, err := json.MarshalIndent(redeemed, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal redemption ledger: %w", err)
	}
	if err := files.WriteAtomic(r.ledger, data, 0600); err != nil {
		return fmt.Errorf("failed to write redemption ledger: %w", err)
	}
	return nil
}
