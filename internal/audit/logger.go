// Package audit records security events. Writes are append-only and, except for
// LogEventSync, best-effort: a failed write never fails the caller's operation.
package audit

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"auth-session-core/internal/audit/domain"
	auditrepo "auth-session-core/internal/audit/repository"
	"auth-session-core/internal/notify"
	"auth-session-core/internal/telemetry"
)

// EventLogger is the write side of the audit log used by the token service.
type EventLogger interface {
	LogEvent(ctx context.Context, e *domain.Event)
	LogEventSync(ctx context.Context, e *domain.Event) error
}

// Logger implements EventLogger over an audit repository.
type Logger struct {
	repo      auditrepo.Repository
	logger    *zap.Logger
	emitter   telemetry.EventEmitter
	publisher notify.Publisher
	metrics   *telemetry.Metrics
	now       func() time.Time

	mu      sync.Mutex
	entropy io.Reader
}

// Option configures a Logger.
type Option func(*Logger)

// WithEmitter mirrors every persisted event to emitter.
func WithEmitter(e telemetry.EventEmitter) Option { return func(l *Logger) { l.emitter = e } }

// WithPublisher publishes high and critical events to notify.TopicSecurityEvents.
func WithPublisher(p notify.Publisher) Option { return func(l *Logger) { l.publisher = p } }

// WithMetrics counts events by type and severity.
func WithMetrics(m *telemetry.Metrics) Option { return func(l *Logger) { l.metrics = m } }

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option { return func(l *Logger) { l.now = now } }

// NewLogger returns a Logger that persists to repo. logger may be nil.
func NewLogger(repo auditrepo.Repository, logger *zap.Logger, opts ...Option) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Logger{
		repo:    repo,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent writes one event. Errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, e *domain.Event) {
	if err := l.LogEventSync(ctx, e); err != nil {
		eventType := ""
		if e != nil {
			eventType = e.EventType
		}
		l.logger.Error("audit: failed to log event", zap.String("event_type", eventType), zap.Error(err))
		l.metrics.SecurityEvent(ctx, "write_failed", string(domain.SeverityHigh))
	}
}

// LogEventSync writes one event and returns the persistence error.
// Oversized details are truncated rather than rejected.
func (l *Logger) LogEventSync(ctx context.Context, e *domain.Event) error {
	if e == nil {
		return errors.New("audit: nil event")
	}
	if l.repo == nil {
		return errors.New("audit: no repository configured")
	}
	ev := *e
	ev.Details = e.Details.Sanitized()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now()
	}
	if ev.ID == "" {
		id, err := l.newID(ev.CreatedAt)
		if err != nil {
			return fmt.Errorf("audit: event id: %w", err)
		}
		ev.ID = id
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := l.repo.Create(ctx, &ev); err != nil {
		return fmt.Errorf("audit: persist %s: %w", ev.EventType, err)
	}
	e.ID, e.CreatedAt = ev.ID, ev.CreatedAt

	l.metrics.SecurityEvent(ctx, ev.EventType, string(ev.Severity))
	telemetry.EmitAsync(l.emitter, l.logger, &ev)
	if ev.Severity.Rank() >= domain.SeverityHigh.Rank() {
		l.publish(ctx, &ev)
	}
	return nil
}

func (l *Logger) publish(ctx context.Context, e *domain.Event) {
	if l.publisher == nil {
		return
	}
	msg := struct {
		ID        string         `json:"id"`
		EventType string         `json:"event_type"`
		Category  string         `json:"category"`
		Severity  string         `json:"severity"`
		AccountID string         `json:"account_id,omitempty"`
		SessionID string         `json:"session_id,omitempty"`
		IPAddress string         `json:"ip_address,omitempty"`
		Details   domain.Details `json:"details,omitempty"`
		CreatedAt time.Time      `json:"created_at"`
	}{e.ID, e.EventType, string(e.Category), string(e.Severity), e.AccountID, e.SessionID, e.IPAddress, e.Details, e.CreatedAt}
	if err := notify.PublishJSON(ctx, l.publisher, notify.TopicSecurityEvents, msg); err != nil {
		l.logger.Warn("audit: publish failed", zap.String("event_type", e.EventType), zap.Error(err))
	}
}

// newID returns a ULID for t. Monotonic entropy is not safe for concurrent use.
func (l *Logger) newID(t time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), l.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Reader is the query side of the audit log.
type Reader struct {
	repo auditrepo.Repository
	now  func() time.Time
}

// NewReader returns a Reader over repo.
func NewReader(repo auditrepo.Repository) *Reader {
	return &Reader{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Recent returns the account's events from the last windowDays days, newest first.
func (r *Reader) Recent(ctx context.Context, accountID string, windowDays, limit int) ([]*domain.Event, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := r.now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	return r.repo.RecentByAccount(ctx, accountID, since, limit)
}
