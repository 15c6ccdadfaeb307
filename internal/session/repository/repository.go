package repository

import (
	"context"
	"errors"
	"time"

	"auth-session-core/internal/session/domain"
)

var (
	// ErrNotFound is returned when a referenced account, token, or session does not exist.
	ErrNotFound = errors.New("session: not found")
	// ErrTokenNotActive is returned by RotateRefreshToken when the old token was already
	// consumed, revoked, or expired. A concurrent refresh that loses the race sees this.
	ErrTokenNotActive = errors.New("session: refresh token not active")
)

// CreateParams describes a new session and its first refresh token.
type CreateParams struct {
	Token   domain.RefreshToken
	Session domain.Session
	// MaxSessions is the account's cap; the oldest active sessions are evicted so that
	// at most MaxSessions remain after the insert.
	MaxSessions int
}

// CreateResult reports the side effects of CreateSession.
type CreateResult struct {
	EvictedSessionIDs []string
}

// RotateParams describes one refresh-token rotation.
type RotateParams struct {
	OldTokenID string
	// NewToken must carry the old token's FamilyID and ExpiresAt.
	NewToken  domain.RefreshToken
	IPAddress string
	Now       time.Time
}

// Repository defines persistence for refresh tokens and sessions. Each method is a
// single atomic unit: either all of its writes happen or none do.
type Repository interface {
	// FindActiveRefreshToken returns the active, unexpired token with the given hash, or nil.
	FindActiveRefreshToken(ctx context.Context, tokenHash string, now time.Time) (*domain.RefreshToken, error)
	// GetRefreshToken returns the token for id regardless of state, or nil.
	GetRefreshToken(ctx context.Context, id string) (*domain.RefreshToken, error)
	// ListFamily returns every stored token of a family, oldest first.
	ListFamily(ctx context.Context, familyID string) ([]*domain.RefreshToken, error)
	// GetSession returns the session for id, or nil.
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	// GetSessionByRefreshToken returns the session currently bound to tokenID, or nil.
	GetSessionByRefreshToken(ctx context.Context, tokenID string) (*domain.Session, error)
	CountActiveSessions(ctx context.Context, accountID string, now time.Time) (int, error)
	// ListActiveSessions returns the account's active sessions, oldest first.
	ListActiveSessions(ctx context.Context, accountID string, now time.Time) ([]*domain.Session, error)

	// CreateSession evicts over-limit sessions, inserts the token and session, and
	// stamps the account's last login. Returns ErrNotFound for an unknown account.
	CreateSession(ctx context.Context, p CreateParams) (*CreateResult, error)
	// RotateRefreshToken deactivates the old token, inserts the new one, and repoints
	// the session. Returns the session id, or ErrTokenNotActive.
	RotateRefreshToken(ctx context.Context, p RotateParams) (string, error)
	// RevokeRefreshToken deactivates one token and its session. False if it was not active.
	RevokeRefreshToken(ctx context.Context, tokenID string, reason domain.TerminationReason, now time.Time) (bool, error)
	// RevokeFamily deactivates every active token of a family and their sessions.
	// Returns the number of tokens deactivated.
	RevokeFamily(ctx context.Context, familyID string, reason domain.TerminationReason, now time.Time) (int, error)
	// TerminateSession deactivates a session and its refresh token. False if it was
	// already inactive or does not exist.
	TerminateSession(ctx context.Context, sessionID string, reason domain.TerminationReason, now time.Time) (bool, error)
	// TerminateAllSessions deactivates every active session of an account.
	TerminateAllSessions(ctx context.Context, accountID string, reason domain.TerminationReason, now time.Time) (int, error)

	// DeleteExpired removes sessions and refresh tokens whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (domain.SweepCounts, error)
	// DeactivateIdleRefreshTokens deactivates active tokens not used since cutoff.
	DeactivateIdleRefreshTokens(ctx context.Context, cutoff time.Time) (int, error)
	// TerminateIdleSessions terminates active sessions with no activity since cutoff.
	TerminateIdleSessions(ctx context.Context, cutoff, now time.Time) (int, error)
	// TerminateOrphanedSessions terminates active sessions whose refresh token is gone or inactive.
	TerminateOrphanedSessions(ctx context.Context, now time.Time) (int, error)
	Stats(ctx context.Context, now time.Time) (domain.Stats, error)
}
