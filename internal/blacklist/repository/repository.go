package repository

import (
	"context"
	"time"

	"auth-session-core/internal/blacklist/domain"
)

// Repository defines persistence for revoked access-token ids.
type Repository interface {
	// Add records e. Adding an existing jti is a no-op.
	Add(ctx context.Context, e *domain.Entry) error
	// Contains reports whether jti is blacklisted and the entry has not expired at now.
	Contains(ctx context.Context, jti string, now time.Time) (bool, error)
	// DeleteExpired removes entries whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	// CountActive returns the number of unexpired entries.
	CountActive(ctx context.Context, now time.Time) (int, error)
}
