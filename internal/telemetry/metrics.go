package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	events         metric.Int64Counter
	tokensIssued   metric.Int64Counter
	refreshes      metric.Int64Counter
	revocations    metric.Int64Counter
	cleanupRemoved metric.Int64Counter
	suspicious     metric.Int64Counter
}

// NewMetrics registers the service counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.events, err = meter.Int64Counter("authcore.security_events",
		metric.WithDescription("Security events recorded, by type and severity.")); err != nil {
		return nil, err
	}
	if m.tokensIssued, err = meter.Int64Counter("authcore.token_pairs_issued",
		metric.WithDescription("Access/refresh token pairs issued at login.")); err != nil {
		return nil, err
	}
	if m.refreshes, err = meter.Int64Counter("authcore.refreshes",
		metric.WithDescription("Refresh attempts, by outcome.")); err != nil {
		return nil, err
	}
	if m.revocations, err = meter.Int64Counter("authcore.revocations",
		metric.WithDescription("Sessions and tokens revoked, by reason.")); err != nil {
		return nil, err
	}
	if m.cleanupRemoved, err = meter.Int64Counter("authcore.cleanup_removed",
		metric.WithDescription("Rows removed or retired by cleanup, by step.")); err != nil {
		return nil, err
	}
	if m.suspicious, err = meter.Int64Counter("authcore.suspicious_flags",
		metric.WithDescription("Suspicious activity flags raised by the monitor.")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) SecurityEvent(ctx context.Context, eventType, severity string) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("severity", severity),
	))
}

func (m *Metrics) TokenPairIssued(ctx context.Context) {
	if m == nil {
		return
	}
	m.tokensIssued.Add(ctx, 1)
}

func (m *Metrics) Refresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) Revoked(ctx context.Context, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.revocations.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) CleanupRemoved(ctx context.Context, step string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupRemoved.Add(ctx, int64(n), metric.WithAttributes(attribute.String("step", step)))
}

func (m *Metrics) SuspiciousFlag(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.suspicious.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
