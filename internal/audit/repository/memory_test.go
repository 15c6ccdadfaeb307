package repository

import (
	"context"
	"testing"
	"time"

	"auth-session-core/internal/audit/domain"
)

func event(id, account, typ, ip string, sev domain.Severity, at time.Time) *domain.Event {
	return &domain.Event{
		ID: id, AccountID: account, EventType: typ, IPAddress: ip,
		Category: domain.CategoryAuth, Severity: sev, CreatedAt: at,
	}
}

func TestMemoryRepository_RecentByAccount(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Now().UTC()
	_ = r.Create(ctx, event("1", "a1", "x", "", domain.SeverityLow, now.Add(-40*24*time.Hour)))
	_ = r.Create(ctx, event("2", "a1", "x", "", domain.SeverityLow, now.Add(-2*time.Hour)))
	_ = r.Create(ctx, event("3", "a1", "x", "", domain.SeverityLow, now.Add(-time.Hour)))
	_ = r.Create(ctx, event("4", "a2", "x", "", domain.SeverityLow, now))

	got, err := r.RecentByAccount(ctx, "a1", now.Add(-30*24*time.Hour), 10)
	if err != nil {
		t.Fatalf("RecentByAccount: %v", err)
	}
	if len(got) != 2 || got[0].ID != "3" || got[1].ID != "2" {
		t.Fatalf("RecentByAccount = %v, want [3 2]", ids(got))
	}
	got, _ = r.RecentByAccount(ctx, "a1", time.Time{}, 1)
	if len(got) != 1 || got[0].ID != "3" {
		t.Fatalf("limited = %v, want [3]", ids(got))
	}
}

func TestMemoryRepository_Counts(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_ = r.Create(ctx, event("f", "", domain.EventFailedLogin, "1.1.1.1", domain.SeverityMedium, now))
	}
	_ = r.Create(ctx, event("g", "", domain.EventFailedLogin, "2.2.2.2", domain.SeverityMedium, now))
	_ = r.Create(ctx, event("old", "", domain.EventFailedLogin, "2.2.2.2", domain.SeverityMedium, now.Add(-2*time.Hour)))
	_ = r.Create(ctx, event("m", "a1", domain.EventDeviceFingerprintMismatch, "3.3.3.3", domain.SeverityHigh, now))

	counts, _ := r.CountByIPSince(ctx, domain.EventFailedLogin, now.Add(-time.Hour))
	if len(counts) != 2 || counts[0] != (domain.IPCount{IPAddress: "1.1.1.1", Count: 3}) {
		t.Fatalf("CountByIPSince = %+v", counts)
	}

	n, _ := r.CountByTypesAndSeverity(ctx,
		[]string{domain.EventDeviceFingerprintMismatch, domain.EventInvalidRefreshToken},
		[]domain.Severity{domain.SeverityHigh, domain.SeverityCritical}, now.Add(-time.Hour))
	if n != 1 {
		t.Errorf("CountByTypesAndSeverity = %d, want 1", n)
	}

	if n, _ := r.CountSince(ctx, time.Time{}); n != 6 {
		t.Errorf("CountSince(zero) = %d, want 6", n)
	}
	if n, _ := r.DeleteOlderThan(ctx, now.Add(-time.Hour)); n != 1 {
		t.Errorf("DeleteOlderThan = %d, want 1", n)
	}
	if n, _ := r.CountSince(ctx, time.Time{}); n != 5 {
		t.Errorf("CountSince after purge = %d, want 5", n)
	}
}

func ids(es []*domain.Event) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}
