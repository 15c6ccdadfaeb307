package domain

import "time"

// TerminationReason records why a session or refresh token stopped being active.
type TerminationReason string

const (
	ReasonLogout               TerminationReason = "logout"
	ReasonLogoutAll            TerminationReason = "logout_all"
	ReasonTimeout              TerminationReason = "timeout"
	ReasonInactivityTimeout    TerminationReason = "inactivity_timeout"
	ReasonAdmin                TerminationReason = "admin"
	ReasonSuspicious           TerminationReason = "suspicious"
	ReasonSessionLimitExceeded TerminationReason = "session_limit_exceeded"
	ReasonOrphanedCleanup      TerminationReason = "orphaned_cleanup"
	ReasonSecurityBreach       TerminationReason = "security_breach"
)

// Valid reports whether r is one of the known reasons.
func (r TerminationReason) Valid() bool {
	switch r {
	case ReasonLogout, ReasonLogoutAll, ReasonTimeout, ReasonInactivityTimeout, ReasonAdmin,
		ReasonSuspicious, ReasonSessionLimitExceeded, ReasonOrphanedCleanup, ReasonSecurityBreach:
		return true
	}
	return false
}

// ClientContext describes the caller of an issuance or refresh.
type ClientContext struct {
	IPAddress  string
	UserAgent  string
	DeviceType string
}

// RefreshToken is a stored refresh credential. Only the SHA-256 hash of the secret is kept.
// All tokens minted by rotation from one login share a FamilyID.
type RefreshToken struct {
	ID                string
	AccountID         string
	TokenHash         string
	DeviceFingerprint string
	FamilyID          string
	IPAddress         string
	UserAgent         string
	DeviceType        string
	IsActive          bool
	CreatedAt         time.Time
	LastUsedAt        *time.Time
	ExpiresAt         time.Time
}

// ValidAt reports whether the token can still be redeemed at now.
func (t *RefreshToken) ValidAt(now time.Time) bool {
	return t.IsActive && now.Before(t.ExpiresAt)
}

// Session is one logged-in device. RefreshTokenID points at the current token of the
// session's family and is empty once that token row is gone.
type Session struct {
	ID                string
	AccountID         string
	RefreshTokenID    string
	IPAddress         string
	UserAgent         string
	DeviceType        string
	DeviceFingerprint string
	IsRememberMe      bool
	IsActive          bool
	CreatedAt         time.Time
	LastActivityAt    time.Time
	ExpiresAt         time.Time
	TerminatedAt      *time.Time
	TerminationReason TerminationReason
}

// ValidAt reports whether the session is active and unexpired at now.
func (s *Session) ValidAt(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// SweepCounts reports how many expired rows a sweep removed.
type SweepCounts struct {
	RefreshTokens int
	Sessions      int
}

// Stats summarizes the session tables at a point in time.
type Stats struct {
	ActiveRefreshTokens        int
	ExpiredRefreshTokens       int
	ActiveSessions             int
	ExpiredSessions            int
	AccountsWithActiveSessions int
}
