package domain

import (
	"errors"
	"time"
)

// DefaultMaxConcurrentSessions applies when an account carries no explicit cap.
const DefaultMaxConcurrentSessions = 5

// Account is the principal that owns sessions and refresh tokens.
// Accounts are deactivated, never deleted.
type Account struct {
	ID                    string
	Email                 string
	Username              string
	PasswordHash          string
	IsActive              bool
	IsAdmin               bool
	MaxConcurrentSessions int
	FailedLoginAttempts   int
	LastLoginAt           *time.Time
	LastLoginIP           string
	PasswordChangedAt     *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Validate validates the account for persistence. Returns an error describing the first validation failure.
func (a *Account) Validate() error {
	if a.ID == "" {
		return errors.New("id is required")
	}
	if a.Email == "" {
		return errors.New("email is required")
	}
	if a.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if a.MaxConcurrentSessions < 0 {
		return errors.New("max concurrent sessions must not be negative")
	}
	return nil
}

// SessionLimit returns the account's cap on active sessions, or fallback when unset.
func (a *Account) SessionLimit(fallback int) int {
	if a.MaxConcurrentSessions > 0 {
		return a.MaxConcurrentSessions
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultMaxConcurrentSessions
}
