package repository

import (
	"context"
	"errors"
	"time"

	"auth-session-core/internal/account/domain"
)

// ErrDuplicateEmail is returned by Create when the email is already registered.
var ErrDuplicateEmail = errors.New("account email already exists")

// Repository defines persistence for accounts.
type Repository interface {
	// GetByID returns the account for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	// GetByEmail returns the account with the given email (case-insensitive), or nil if not found.
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
	// RecordFailedLogin increments the failed login counter. No-op for unknown ids.
	RecordFailedLogin(ctx context.Context, id string, at time.Time) error
	// SetActive activates or soft-deactivates the account.
	SetActive(ctx context.Context, id string, active bool) error
	// SetMaxSessions sets the per-account session cap; 0 restores the default.
	SetMaxSessions(ctx context.Context, id string, limit int) error
}
