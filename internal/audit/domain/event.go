package domain

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Category groups security events.
type Category string

const (
	CategoryAuth       Category = "auth"
	CategorySession    Category = "session"
	CategorySuspicious Category = "suspicious"
)

// Severity ranks security events.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from 1 (low) to 4 (critical); unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Event types written by the token service and its callers.
const (
	EventLoginSuccess              = "login_success"
	EventFailedLogin               = "failed_login"
	EventInactiveAccountLogin      = "inactive_user_login"
	EventEmptyLoginFields          = "empty_login_fields"
	EventLogout                    = "logout"
	EventTokenRefresh              = "token_refresh"
	EventInvalidRefreshToken       = "invalid_refresh_token"
	EventDeviceFingerprintMismatch = "device_fingerprint_mismatch"
	EventTokenFamilyRevoked        = "token_family_revoked"
	EventSessionTerminated         = "session_terminated"
	EventAllSessionsTerminated     = "all_sessions_terminated"
	EventSessionEvicted            = "session_limit_eviction"
	EventAccessTokenRevoked        = "access_token_revoked"
	EventTokenValidationFailed     = "token_validation_failed"
	EventSuspiciousActivity        = "suspicious_activity_detected"
	EventSessionPayloadRejected    = "session_payload_rejected"
)

// Limits on Details.
const (
	MaxDetailKeys     = 16
	MaxDetailKeyLen   = 64
	MaxDetailValueLen = 512
)

var detailKeyPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ErrInvalidDetails is returned by Details.Validate.
var ErrInvalidDetails = errors.New("invalid event details")

// Details is a small, flat set of string attributes attached to an event.
type Details map[string]string

// Validate checks key count, key format, and value length.
func (d Details) Validate() error {
	if len(d) > MaxDetailKeys {
		return fmt.Errorf("%w: %d keys exceeds %d", ErrInvalidDetails, len(d), MaxDetailKeys)
	}
	for k, v := range d {
		if len(k) == 0 || len(k) > MaxDetailKeyLen || !detailKeyPattern.MatchString(k) {
			return fmt.Errorf("%w: bad key %q", ErrInvalidDetails, k)
		}
		if len(v) > MaxDetailValueLen {
			return fmt.Errorf("%w: value for %q too long", ErrInvalidDetails, k)
		}
	}
	return nil
}

// Sanitized returns a copy of d that passes Validate: bad keys are dropped, long
// values truncated, and surplus keys discarded in no particular order.
func (d Details) Sanitized() Details {
	if len(d) == 0 {
		return nil
	}
	out := make(Details, len(d))
	for k, v := range d {
		if len(out) == MaxDetailKeys {
			break
		}
		if len(k) == 0 || len(k) > MaxDetailKeyLen || !detailKeyPattern.MatchString(k) {
			continue
		}
		if len(v) > MaxDetailValueLen {
			v = v[:MaxDetailValueLen]
		}
		out[k] = v
	}
	return out
}

// Event is one append-only security audit record.
type Event struct {
	ID                string
	AccountID         string
	SessionID         string
	EventType         string
	Category          Category
	Severity          Severity
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Details           Details
	Success           bool
	ErrorMessage      string
	CreatedAt         time.Time
}

// Validate checks the event for persistence.
func (e *Event) Validate() error {
	if e.EventType == "" {
		return errors.New("event type is required")
	}
	switch e.Category {
	case CategoryAuth, CategorySession, CategorySuspicious:
	default:
		return fmt.Errorf("unknown category %q", e.Category)
	}
	if e.Severity.Rank() == 0 {
		return fmt.Errorf("unknown severity %q", e.Severity)
	}
	return e.Details.Validate()
}

// IPCount is a per-IP event tally.
type IPCount struct {
	IPAddress string
	Count     int
}
