package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals
}

func TestMetrics_Counters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.SecurityEvent(ctx, "failed_login", "medium")
	m.SecurityEvent(ctx, "failed_login", "medium")
	m.TokenPairIssued(ctx)
	m.Refresh(ctx, "ok")
	m.Revoked(ctx, "logout", 3)
	m.Revoked(ctx, "logout", 0)
	m.CleanupRemoved(ctx, "expired_tokens", 7)
	m.SuspiciousFlag(ctx, "failed_login_ip")

	got := collect(t, reader)
	want := map[string]int64{
		"authcore.security_events":    2,
		"authcore.token_pairs_issued": 1,
		"authcore.refreshes":          1,
		"authcore.revocations":        3,
		"authcore.cleanup_removed":    7,
		"authcore.suspicious_flags":   1,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %d, want %d", name, got[name], v)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.SecurityEvent(ctx, "x", "low")
	m.TokenPairIssued(ctx)
	m.Refresh(ctx, "ok")
	m.Revoked(ctx, "x", 1)
	m.CleanupRemoved(ctx, "x", 1)
	m.SuspiciousFlag(ctx, "x")
}
