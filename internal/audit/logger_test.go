package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"auth-session-core/internal/audit/domain"
	auditrepo "auth-session-core/internal/audit/repository"
)

// failingRepo wraps the memory repository and fails Create on demand.
type failingRepo struct {
	*auditrepo.MemoryRepository
	createErr error
}

func (f *failingRepo) Create(ctx context.Context, e *domain.Event) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.MemoryRepository.Create(ctx, e)
}

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (c *capturePublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func authEvent(typ string, sev domain.Severity) *domain.Event {
	return &domain.Event{AccountID: "acc-1", EventType: typ, Category: domain.CategoryAuth, Severity: sev}
}

func TestLogger_LogEvent_Success(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := NewLogger(repo, nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	e := authEvent(domain.EventLoginSuccess, domain.SeverityLow)
	e.Details = domain.Details{"remember_me": "true"}
	l.LogEvent(ctx, e)

	got, _ := repo.RecentByAccount(ctx, "acc-1", time.Time{}, 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].ID == "" || len(got[0].ID) != 26 {
		t.Errorf("ID = %q, want 26-char ULID", got[0].ID)
	}
	if !got[0].CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, now)
	}
	if got[0].Details["remember_me"] != "true" {
		t.Errorf("details = %v", got[0].Details)
	}
	if e.ID != got[0].ID {
		t.Errorf("caller event ID = %q, want %q", e.ID, got[0].ID)
	}
}

func TestLogger_LogEvent_RepoErrorNotPropagated(t *testing.T) {
	repo := &failingRepo{MemoryRepository: auditrepo.NewMemoryRepository(), createErr: errors.New("db down")}
	l := NewLogger(repo, nil)

	// Must not panic or block.
	l.LogEvent(context.Background(), authEvent(domain.EventFailedLogin, domain.SeverityMedium))

	if err := l.LogEventSync(context.Background(), authEvent(domain.EventFailedLogin, domain.SeverityMedium)); err == nil {
		t.Fatal("LogEventSync: expected error from repository")
	}
}

func TestLogger_LogEventSync_Validation(t *testing.T) {
	l := NewLogger(auditrepo.NewMemoryRepository(), nil)
	ctx := context.Background()
	tests := []struct {
		name string
		e    *domain.Event
	}{
		{"nil event", nil},
		{"missing type", &domain.Event{Category: domain.CategoryAuth, Severity: domain.SeverityLow}},
		{"bad category", &domain.Event{EventType: "x", Category: "nope", Severity: domain.SeverityLow}},
		{"bad severity", &domain.Event{EventType: "x", Category: domain.CategoryAuth, Severity: "urgent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := l.LogEventSync(ctx, tt.e); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLogger_OversizeDetailsTruncated(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	l := NewLogger(repo, nil)
	e := authEvent(domain.EventFailedLogin, domain.SeverityMedium)
	e.Details = domain.Details{"reason": strings.Repeat("x", 2000), "Bad-Key": "v"}
	if err := l.LogEventSync(context.Background(), e); err != nil {
		t.Fatalf("LogEventSync: %v", err)
	}
	got, _ := repo.RecentByAccount(context.Background(), "acc-1", time.Time{}, 1)
	if len(got[0].Details["reason"]) != domain.MaxDetailValueLen {
		t.Errorf("reason len = %d, want %d", len(got[0].Details["reason"]), domain.MaxDetailValueLen)
	}
	if _, ok := got[0].Details["Bad-Key"]; ok {
		t.Error("invalid key should be dropped")
	}
}

func TestLogger_PublishesHighSeverityOnly(t *testing.T) {
	pub := &capturePublisher{}
	l := NewLogger(auditrepo.NewMemoryRepository(), nil, WithPublisher(pub))
	ctx := context.Background()

	l.LogEvent(ctx, authEvent(domain.EventLoginSuccess, domain.SeverityLow))
	l.LogEvent(ctx, authEvent(domain.EventFailedLogin, domain.SeverityMedium))
	l.LogEvent(ctx, &domain.Event{EventType: domain.EventDeviceFingerprintMismatch, Category: domain.CategorySuspicious, Severity: domain.SeverityHigh})
	l.LogEvent(ctx, &domain.Event{EventType: domain.EventTokenFamilyRevoked, Category: domain.CategorySuspicious, Severity: domain.SeverityCritical})

	if len(pub.topics) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.topics))
	}
	for _, topic := range pub.topics {
		if topic != "security.events" {
			t.Errorf("topic = %q", topic)
		}
	}
}

func TestLogger_IDsAreOrdered(t *testing.T) {
	l := NewLogger(auditrepo.NewMemoryRepository(), nil)
	at := time.Now().UTC()
	prev := ""
	for i := 0; i < 50; i++ {
		id, err := l.newID(at)
		if err != nil {
			t.Fatalf("newID: %v", err)
		}
		if id <= prev {
			t.Fatalf("id %q not greater than %q", id, prev)
		}
		prev = id
	}
}

func TestReader_Recent(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i, age := range []time.Duration{time.Hour, 10 * 24 * time.Hour, 40 * 24 * time.Hour} {
		e := authEvent(domain.EventLoginSuccess, domain.SeverityLow)
		e.ID = string(rune('a' + i))
		e.CreatedAt = now.Add(-age)
		_ = repo.Create(ctx, e)
	}
	r := NewReader(repo)
	r.now = func() time.Time { return now }

	got, err := r.Recent(ctx, "acc-1", 30, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent = %d events, want 2", len(got))
	}
	if got[0].ID != "a" {
		t.Errorf("first event = %q, want newest", got[0].ID)
	}
	if got, _ := r.Recent(ctx, "acc-1", 7, 10); len(got) != 1 {
		t.Errorf("7-day window = %d events, want 1", len(got))
	}
}
