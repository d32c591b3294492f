// Package entitlement is the single choke point for authorization
// decisions. Every other component checks, grants and revokes capabilities
// through this service; nothing reads the capability store directly.
package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"arcavault/internal/audit"
	"arcavault/internal/capability"
	"arcavault/internal/infrastructure"
)

// ErrNoValidCapability is returned when no stored capability satisfies the
// requested action and scope.
var ErrNoValidCapability = errors.New("no valid capability found")

// Service orchestrates the capability store and validator.
type Service struct {
	store     *capability.Store
	issuer    *capability.Issuer
	validator *capability.Validator
	audit     *audit.Logger
	consent   *ConsentLedger
	metrics   *infrastructure.Metrics
}

// NewService creates the entitlement service. audit, consent and metrics may
// be nil in tests.
func NewService(store *capability.Store, issuer *capability.Issuer, validator *capability.Validator,
	auditLog *audit.Logger, consent *ConsentLedger, metrics *infrastructure.Metrics) *Service {
	return &Service{
		store:     store,
		issuer:    issuer,
		validator: validator,
		audit:     auditLog,
		consent:   consent,
		metrics:   metrics,
	}
}

// CheckEntitlement returns the first stored capability that validly grants
// action for scope, skipping revoked records. When candidates exist but none
// passes, the first validation failure is returned so the caller learns the
// precise reason; with no candidates at all the result is
// ErrNoValidCapability.
//
// Denials are a normal outcome: this method writes no log lines and records
// no metrics, so probing for a capability is indistinguishable from the
// capability not existing.
func (s *Service) CheckEntitlement(ctx context.Context, action, scope string) (capability.Capability, error) {
	candidates, err := s.store.GetByActionAndScope(ctx, action, scope)
	if err != nil {
		return capability.Capability{}, err
	}

	var firstErr error
	for _, c := range candidates {
		revoked, err := s.store.IsRevoked(ctx, c.ID)
		if err != nil {
			return capability.Capability{}, err
		}
		if revoked {
			continue
		}
		if err := s.validator.Validate(c, action, scope); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return c, nil
	}

	if firstErr != nil {
		return capability.Capability{}, firstErr
	}
	return capability.Capability{}, ErrNoValidCapability
}

// GrantCapability issues a capability and persists it. A lifetime of zero or
// less grants without expiry.
func (s *Service) GrantCapability(ctx context.Context, action, scope string, lifetime time.Duration) (capability.Capability, error) {
	c, err := s.issuer.Issue(action, scope, lifetime)
	if err != nil {
		return capability.Capability{}, err
	}
	if err := s.store.Add(ctx, c); err != nil {
		return capability.Capability{}, err
	}

	if s.audit != nil {
		s.audit.Record(ctx, audit.Entry{
			Action:       "capability.grant",
			CapabilityID: c.ID,
			GameScope:    c.GameScope,
			Detail:       action,
			Outcome:      audit.OutcomeSuccess,
		})
	}
	s.metrics.RecordGrant(ctx, action)
	infrastructure.LoggerFromContext(ctx).Info("Capability granted",
		slog.String("capability_id", c.ID),
		slog.String("action", action),
		slog.String("game_scope", scope),
	)
	return c, nil
}

// RevokeCapability adds a capability id to the revocation set
func (s *Service) RevokeCapability(ctx context.Context, id string) error {
	if err := s.store.Revoke(ctx, id); err != nil {
		return err
	}

	if s.audit != nil {
		s.audit.Record(ctx, audit.Entry{
			Action:       "capability.revoke",
			CapabilityID: id,
			Outcome:      audit.OutcomeSuccess,
		})
	}
	s.metrics.RecordRevocation(ctx)
	infrastructure.LoggerFromContext(ctx).Info("Capability revoked",
		slog.String("capability_id", id),
	)
	return nil
}

// RevokeCapabilitiesByAction revokes every stored capability granting action,
// regardless of which process granted it. Returns the ids newly revoked.
func (s *Service) RevokeCapabilitiesByAction(ctx context.Context, action string) ([]string, error) {
	ids, err := s.store.RevokeByAction(ctx, action)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if s.audit != nil {
			s.audit.Record(ctx, audit.Entry{
				Action:       "capability.revoke",
				CapabilityID: id,
				Detail:       action,
				Outcome:      audit.OutcomeSuccess,
			})
		}
		s.metrics.RecordRevocation(ctx)
	}
	if len(ids) > 0 {
		infrastructure.LoggerFromContext(ctx).Info("Capabilities revoked by action",
			slog.String("action", action),
			slog.Int("count", len(ids)),
		)
	}
	return ids, nil
}

// PurgeExpired removes expired capabilities and their revocation entries.
// There is no background scheduling; the embedding application decides when
// to purge.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	return s.store.PurgeExpired(ctx)
}

// HasConsent reports whether the user has recorded consent for the scope.
// Without a consent ledger every scope is considered consented.
func (s *Service) HasConsent(ctx context.Context, scope string) (bool, error) {
	if s.consent == nil {
		return true, nil
	}
	return s.consent.Has(ctx, scope)
}

// RecordConsent records user consent for the scope
func (s *Service) RecordConsent(ctx context.Context, scope, source string) error {
	if s.consent == nil {
		return nil
	}
	return s.consent.Record(ctx, scope, source)
}
