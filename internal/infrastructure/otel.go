package infrastructure

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine's OpenTelemetry instruments. Only issuance-side
// events are counted: grants, revocations, redemptions and tamper events.
// Entitlement denials and loader misses are deliberately not instrumented so
// a denied caller produces no observable signal.
type Metrics struct {
	grants       metric.Int64Counter
	revocations  metric.Int64Counter
	redemptions  metric.Int64Counter
	tamperEvents metric.Int64Counter
	elevations   metric.Int64Counter
}

// NewMetrics creates the engine instruments from the global meter provider.
// With no provider installed the instruments are no-ops.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("arcavault")

	var (
		m   Metrics
		err error
	)
	if m.grants, err = meter.Int64Counter("arcavault.capability.grants",
		metric.WithDescription("Capabilities granted")); err != nil {
		return nil, fmt.Errorf("failed to create grants counter: %w", err)
	}
	if m.revocations, err = meter.Int64Counter("arcavault.capability.revocations",
		metric.WithDescription("Capabilities revoked")); err != nil {
		return nil, fmt.Errorf("failed to create revocations counter: %w", err)
	}
	if m.redemptions, err = meter.Int64Counter("arcavault.activation.redemptions",
		metric.WithDescription("Activation codes redeemed")); err != nil {
		return nil, fmt.Errorf("failed to create redemptions counter: %w", err)
	}
	if m.tamperEvents, err = meter.Int64Counter("arcavault.integrity.tamper_events",
		metric.WithDescription("Tamper events detected")); err != nil {
		return nil, fmt.Errorf("failed to create tamper counter: %w", err)
	}
	if m.elevations, err = meter.Int64Counter("arcavault.admin.elevations",
		metric.WithDescription("Admin elevations performed")); err != nil {
		return nil, fmt.Errorf("failed to create elevations counter: %w", err)
	}
	return &m, nil
}

// RecordGrant counts one capability grant. Safe on a nil receiver.
func (m *Metrics) RecordGrant(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.grants.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordRevocation counts one capability revocation. Safe on a nil receiver.
func (m *Metrics) RecordRevocation(ctx context.Context) {
	if m == nil {
		return
	}
	m.revocations.Add(ctx, 1)
}

// RecordRedemption counts one successful code redemption. Safe on a nil receiver.
func (m *Metrics) RecordRedemption(ctx context.Context, bundle string) {
	if m == nil {
		return
	}
	m.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("bundle", bundle)))
}

// RecordTamper counts one detected tamper event. Safe on a nil receiver.
func (m *Metrics) RecordTamper(ctx context.Context) {
	if m == nil {
		return
	}
	m.tamperEvents.Add(ctx, 1)
}

// RecordElevation counts one admin elevation. Safe on a nil receiver.
func (m *Metrics) RecordElevation(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.elevations.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}
