package repository

import (
	"context"
	"time"

	"auth-session-core/internal/audit/domain"
)

// Repository defines persistence for security events. Events are append-only;
// only retention purges remove them.
type Repository interface {
	Create(ctx context.Context, e *domain.Event) error
	// RecentByAccount returns the account's events created at or after since, newest first.
	RecentByAccount(ctx context.Context, accountID string, since time.Time, limit int) ([]*domain.Event, error)
	// CountByIPSince tallies events of eventType per IP address since the given time.
	CountByIPSince(ctx context.Context, eventType string, since time.Time) ([]domain.IPCount, error)
	// CountByTypesAndSeverity counts events matching any of eventTypes and any of severities.
	CountByTypesAndSeverity(ctx context.Context, eventTypes []string, severities []domain.Severity, since time.Time) (int, error)
	// CountSince counts all events created at or after since; the zero time counts everything.
	CountSince(ctx context.Context, since time.Time) (int, error)
	// DeleteOlderThan removes events created at or before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
