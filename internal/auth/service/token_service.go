// Package service implements credential issuance, rotation, and revocation on top of
// the session store, and password login on top of that.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	accountdomain "auth-session-core/internal/account/domain"
	"auth-session-core/internal/audit"
	auditdomain "auth-session-core/internal/audit/domain"
	"auth-session-core/internal/notify"
	"auth-session-core/internal/security"
	sessiondomain "auth-session-core/internal/session/domain"
	sessionrepo "auth-session-core/internal/session/repository"
	"auth-session-core/internal/telemetry"
)

// Events returned by SecuritySummary.
const (
	summaryWindowDays = 30
	summaryEventLimit = 10
)

// AccountReader is the account lookup needed by the token service.
type AccountReader interface {
	GetByID(ctx context.Context, id string) (*accountdomain.Account, error)
}

// AccessVerifier validates and revokes access tokens against the blacklist.
type AccessVerifier interface {
	Verify(ctx context.Context, token string) (*security.AccessClaims, error)
	Revoke(ctx context.Context, claims *security.AccessClaims, reason string) error
	DeleteExpired(ctx context.Context) (int, error)
}

// EventReader is the query side of the audit log.
type EventReader interface {
	Recent(ctx context.Context, accountID string, windowDays, limit int) ([]*auditdomain.Event, error)
}

// Config holds token lifetimes and the default session cap.
type Config struct {
	RefreshTTL         time.Duration
	RememberMeTTL      time.Duration
	DefaultMaxSessions int
}

// TokenPair is the result of a login or a refresh.
type TokenPair struct {
	AccessToken       string
	AccessExpiresAt   time.Time
	RefreshToken      string
	RefreshExpiresAt  time.Time
	SessionID         string
	FamilyID          string
	DeviceFingerprint string
	// EvictedSessionIDs lists sessions ended to stay under the account's cap. Login only.
	EvictedSessionIDs []string
}

// SecuritySummary is an account's active sessions plus its recent security events.
type SecuritySummary struct {
	ActiveSessions []*sessiondomain.Session
	RecentEvents   []*auditdomain.Event
}

// TokenService issues, rotates, and revokes credential pairs. It holds no locks; every
// consistency guarantee comes from single-transaction store operations.
type TokenService struct {
	sessions  sessionrepo.Repository
	accounts  AccountReader
	tokens    *security.TokenProvider
	verifier  AccessVerifier
	events    audit.EventLogger
	reader    EventReader
	publisher notify.Publisher
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time
}

// Option configures a TokenService.
type Option func(*TokenService)

// WithPublisher publishes session lifecycle notifications.
func WithPublisher(p notify.Publisher) Option { return func(s *TokenService) { s.publisher = p } }

// WithMetrics records issuance, refresh, and revocation counters.
func WithMetrics(m *telemetry.Metrics) Option { return func(s *TokenService) { s.metrics = m } }

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option { return func(s *TokenService) { s.logger = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *TokenService) { s.now = now } }

// WithEventReader enables RecentEvents and SecuritySummary.
func WithEventReader(r EventReader) Option { return func(s *TokenService) { s.reader = r } }

// NewTokenService returns a TokenService with the given dependencies.
func NewTokenService(
	sessions sessionrepo.Repository,
	accounts AccountReader,
	tokens *security.TokenProvider,
	verifier AccessVerifier,
	events audit.EventLogger,
	cfg Config,
	opts ...Option,
) *TokenService {
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.RememberMeTTL <= 0 {
		cfg.RememberMeTTL = 30 * 24 * time.Hour
	}
	if cfg.DefaultMaxSessions <= 0 {
		cfg.DefaultMaxSessions = accountdomain.DefaultMaxConcurrentSessions
	}
	s := &TokenService{
		sessions:  sessions,
		accounts:  accounts,
		tokens:    tokens,
		verifier:  verifier,
		events:    events,
		publisher: notify.Nop{},
		logger:    zap.NewNop(),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IssueTokenPair creates a session and its first credential pair for an authenticated
// account. The eviction of over-limit sessions and both inserts commit together.
func (s *TokenService) IssueTokenPair(ctx context.Context, account *accountdomain.Account, client sessiondomain.ClientContext, rememberMe bool) (*TokenPair, error) {
	if account == nil {
		return nil, ErrUnauthorized
	}
	if !account.IsActive {
		return nil, ErrAccountInactive
	}
	now := s.now()
	fingerprint := security.DeviceFingerprint(client.UserAgent, client.IPAddress)

	secret, err := security.GenerateOpaqueToken()
	if err != nil {
		return nil, err
	}
	sessionID := uuid.New().String()
	familyID := uuid.New().String()
	tokenID := uuid.New().String()
	access, _, accessExp, err := s.tokens.IssueAccess(security.AccessSubject{
		AccountID: account.ID,
		Email:     account.Email,
		IsAdmin:   account.IsAdmin,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, err
	}

	ttl := s.cfg.RefreshTTL
	if rememberMe {
		ttl = s.cfg.RememberMeTTL
	}
	expiresAt := now.Add(ttl)

	res, err := s.sessions.CreateSession(ctx, sessionrepo.CreateParams{
		Token: sessiondomain.RefreshToken{
			ID:                tokenID,
			AccountID:         account.ID,
			TokenHash:         security.HashToken(secret),
			DeviceFingerprint: fingerprint,
			FamilyID:          familyID,
			IPAddress:         client.IPAddress,
			UserAgent:         client.UserAgent,
			DeviceType:        client.DeviceType,
			IsActive:          true,
			CreatedAt:         now,
			ExpiresAt:         expiresAt,
		},
		Session: sessiondomain.Session{
			ID:                sessionID,
			AccountID:         account.ID,
			RefreshTokenID:    tokenID,
			IPAddress:         client.IPAddress,
			UserAgent:         client.UserAgent,
			DeviceType:        client.DeviceType,
			DeviceFingerprint: fingerprint,
			IsRememberMe:      rememberMe,
			IsActive:          true,
			CreatedAt:         now,
			LastActivityAt:    now,
			ExpiresAt:         expiresAt,
		},
		MaxSessions: account.SessionLimit(s.cfg.DefaultMaxSessions),
	})
	if err != nil {
		if errors.Is(err, sessionrepo.ErrNotFound) {
			return nil, unauthorized(err)
		}
		return nil, transient("create session", err)
	}

	for _, evicted := range res.EvictedSessionIDs {
		s.logEvent(ctx, &auditdomain.Event{
			AccountID: account.ID,
			SessionID: evicted,
			EventType: auditdomain.EventSessionEvicted,
			Category:  auditdomain.CategorySession,
			Severity:  auditdomain.SeverityLow,
			IPAddress: client.IPAddress,
			UserAgent: client.UserAgent,
			Details:   auditdomain.Details{"reason": string(sessiondomain.ReasonSessionLimitExceeded), "new_session_id": sessionID},
			Success:   true,
		})
		s.notify(ctx, notify.TopicSessionEvicted, sessionNotice{
			AccountID: account.ID, SessionID: evicted, Reason: string(sessiondomain.ReasonSessionLimitExceeded), At: now,
		})
	}
	s.metrics.Revoked(ctx, string(sessiondomain.ReasonSessionLimitExceeded), len(res.EvictedSessionIDs))

	s.logEvent(ctx, &auditdomain.Event{
		AccountID:         account.ID,
		SessionID:         sessionID,
		EventType:         auditdomain.EventLoginSuccess,
		Category:          auditdomain.CategoryAuth,
		Severity:          auditdomain.SeverityLow,
		IPAddress:         client.IPAddress,
		UserAgent:         client.UserAgent,
		DeviceFingerprint: fingerprint,
		Details: auditdomain.Details{
			"remember_me":      strconv.FormatBool(rememberMe),
			"device_type":      client.DeviceType,
			"evicted_sessions": strconv.Itoa(len(res.EvictedSessionIDs)),
		},
		Success: true,
	})
	s.notify(ctx, notify.TopicSessionCreated, sessionNotice{AccountID: account.ID, SessionID: sessionID, At: now})
	s.metrics.TokenPairIssued(ctx)

	return &TokenPair{
		AccessToken:       access,
		AccessExpiresAt:   accessExp,
		RefreshToken:      secret,
		RefreshExpiresAt:  expiresAt,
		SessionID:         sessionID,
		FamilyID:          familyID,
		DeviceFingerprint: fingerprint,
		EvictedSessionIDs: res.EvictedSessionIDs,
	}, nil
}

// Refresh exchanges a refresh secret for a new pair. If expectedFingerprint is set and
// does not match the caller's current fingerprint, the whole token family is revoked.
func (s *TokenService) Refresh(ctx context.Context, presentedSecret string, client sessiondomain.ClientContext, expectedFingerprint string) (*TokenPair, error) {
	now := s.now()
	tok, err := s.lookupActive(ctx, presentedSecret, now)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		s.logEvent(ctx, &auditdomain.Event{
			EventType: auditdomain.EventInvalidRefreshToken,
			Category:  auditdomain.CategorySuspicious,
			Severity:  auditdomain.SeverityMedium,
			IPAddress: client.IPAddress,
			UserAgent: client.UserAgent,
			Details:   auditdomain.Details{"reason": "token_not_found_or_expired"},
		})
		s.metrics.Refresh(ctx, "invalid")
		return nil, unauthorized(nil)
	}

	account, err := s.accounts.GetByID(ctx, tok.AccountID)
	if err != nil {
		return nil, transient("load account", err)
	}
	if account == nil || !account.IsActive {
		s.metrics.Refresh(ctx, "account_inactive")
		return nil, unauthorized(ErrAccountInactive)
	}

	current := security.DeviceFingerprint(client.UserAgent, client.IPAddress)
	if expectedFingerprint != "" && subtle.ConstantTimeCompare([]byte(expectedFingerprint), []byte(current)) != 1 {
		return nil, s.handleTheft(ctx, tok, client, expectedFingerprint, current, now)
	}

	secret, err := security.GenerateOpaqueToken()
	if err != nil {
		return nil, err
	}
	newTokenID := uuid.New().String()
	sessionID, err := s.sessions.RotateRefreshToken(ctx, sessionrepo.RotateParams{
		OldTokenID: tok.ID,
		NewToken: sessiondomain.RefreshToken{
			ID:                newTokenID,
			AccountID:         tok.AccountID,
			TokenHash:         security.HashToken(secret),
			DeviceFingerprint: tok.DeviceFingerprint,
			FamilyID:          tok.FamilyID,
			IPAddress:         client.IPAddress,
			UserAgent:         client.UserAgent,
			DeviceType:        tok.DeviceType,
			IsActive:          true,
			CreatedAt:         now,
			ExpiresAt:         tok.ExpiresAt,
		},
		IPAddress: client.IPAddress,
		Now:       now,
	})
	if err != nil {
		if errors.Is(err, sessionrepo.ErrTokenNotActive) {
			s.metrics.Refresh(ctx, "lost_race")
			return nil, unauthorized(err)
		}
		return nil, transient("rotate refresh token", err)
	}

	access, _, accessExp, err := s.tokens.IssueAccess(security.AccessSubject{
		AccountID: account.ID,
		Email:     account.Email,
		IsAdmin:   account.IsAdmin,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, &auditdomain.Event{
		AccountID:         account.ID,
		SessionID:         sessionID,
		EventType:         auditdomain.EventTokenRefresh,
		Category:          auditdomain.CategoryAuth,
		Severity:          auditdomain.SeverityLow,
		IPAddress:         client.IPAddress,
		UserAgent:         client.UserAgent,
		DeviceFingerprint: current,
		Success:           true,
	})
	s.metrics.Refresh(ctx, "ok")

	return &TokenPair{
		AccessToken:       access,
		AccessExpiresAt:   accessExp,
		RefreshToken:      secret,
		RefreshExpiresAt:  tok.ExpiresAt,
		SessionID:         sessionID,
		FamilyID:          tok.FamilyID,
		DeviceFingerprint: tok.DeviceFingerprint,
	}, nil
}

// handleTheft records the mismatch and then revokes the family. The event is written
// synchronously first so the signal survives a crash during revocation.
func (s *TokenService) handleTheft(ctx context.Context, tok *sessiondomain.RefreshToken, client sessiondomain.ClientContext, expected, current string, now time.Time) error {
	event := &auditdomain.Event{
		AccountID:         tok.AccountID,
		EventType:         auditdomain.EventDeviceFingerprintMismatch,
		Category:          auditdomain.CategorySuspicious,
		Severity:          auditdomain.SeverityHigh,
		IPAddress:         client.IPAddress,
		UserAgent:         client.UserAgent,
		DeviceFingerprint: current,
		Details: auditdomain.Details{
			"expected_fingerprint": expected,
			"actual_fingerprint":   current,
			"family_id":            tok.FamilyID,
		},
	}
	if s.events != nil {
		if err := s.events.LogEventSync(ctx, event); err != nil {
			s.logger.Error("token service: theft event not persisted", zap.String("family_id", tok.FamilyID), zap.Error(err))
		}
	}

	n, err := s.sessions.RevokeFamily(ctx, tok.FamilyID, sessiondomain.ReasonSuspicious, now)
	if err != nil {
		s.logger.Error("token service: family revocation failed", zap.String("family_id", tok.FamilyID), zap.Error(err))
		return transient("revoke family", err)
	}
	s.logEvent(ctx, &auditdomain.Event{
		AccountID: tok.AccountID,
		EventType: auditdomain.EventTokenFamilyRevoked,
		Category:  auditdomain.CategorySuspicious,
		Severity:  auditdomain.SeverityHigh,
		IPAddress: client.IPAddress,
		Details:   auditdomain.Details{"family_id": tok.FamilyID, "tokens_revoked": strconv.Itoa(n)},
		Success:   true,
	})
	s.metrics.Refresh(ctx, "fingerprint_mismatch")
	s.metrics.Revoked(ctx, string(sessiondomain.ReasonSuspicious), n)
	return unauthorized(ErrSuspiciousActivity)
}

// RevokeRefreshToken deactivates the token for secret and ends its session. It reports
// whether an active token was found.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, secret string, reason sessiondomain.TerminationReason) (bool, error) {
	now := s.now()
	tok, err := s.lookupActive(ctx, secret, now)
	if err != nil || tok == nil {
		return false, err
	}
	ok, err := s.sessions.RevokeRefreshToken(ctx, tok.ID, reason, now)
	if err != nil {
		return false, transient("revoke refresh token", err)
	}
	if ok {
		s.metrics.Revoked(ctx, string(reason), 1)
	}
	return ok, nil
}

// RevokeFamily deactivates every active token of a family and their sessions.
func (s *TokenService) RevokeFamily(ctx context.Context, familyID string, reason sessiondomain.TerminationReason) (int, error) {
	n, err := s.sessions.RevokeFamily(ctx, familyID, reason, s.now())
	if err != nil {
		return 0, transient("revoke family", err)
	}
	if n > 0 {
		s.logEvent(ctx, &auditdomain.Event{
			EventType: auditdomain.EventTokenFamilyRevoked,
			Category:  auditdomain.CategorySession,
			Severity:  auditdomain.SeverityMedium,
			Details:   auditdomain.Details{"family_id": familyID, "reason": string(reason), "tokens_revoked": strconv.Itoa(n)},
			Success:   true,
		})
		s.metrics.Revoked(ctx, string(reason), n)
	}
	return n, nil
}

// TerminateSession ends one session and its refresh token. Terminating an inactive or
// unknown session returns false.
func (s *TokenService) TerminateSession(ctx context.Context, sessionID string, reason sessiondomain.TerminationReason) (bool, error) {
	now := s.now()
	ok, err := s.sessions.TerminateSession(ctx, sessionID, reason, now)
	if err != nil {
		return false, transient("terminate session", err)
	}
	if !ok {
		return false, nil
	}
	accountID := ""
	if sess, err := s.sessions.GetSession(ctx, sessionID); err == nil && sess != nil {
		accountID = sess.AccountID
	}
	s.logEvent(ctx, &auditdomain.Event{
		AccountID: accountID,
		SessionID: sessionID,
		EventType: auditdomain.EventSessionTerminated,
		Category:  auditdomain.CategorySession,
		Severity:  auditdomain.SeverityLow,
		Details:   auditdomain.Details{"reason": string(reason)},
		Success:   true,
	})
	s.metrics.Revoked(ctx, string(reason), 1)
	return true, nil
}

// TerminateAllSessions ends every active session of an account.
func (s *TokenService) TerminateAllSessions(ctx context.Context, accountID string, reason sessiondomain.TerminationReason) (int, error) {
	n, err := s.sessions.TerminateAllSessions(ctx, accountID, reason, s.now())
	if err != nil {
		return 0, transient("terminate all sessions", err)
	}
	s.logEvent(ctx, &auditdomain.Event{
		AccountID: accountID,
		EventType: auditdomain.EventAllSessionsTerminated,
		Category:  auditdomain.CategorySession,
		Severity:  auditdomain.SeverityMedium,
		Details:   auditdomain.Details{"reason": string(reason), "sessions_terminated": strconv.Itoa(n)},
		Success:   true,
	})
	s.metrics.Revoked(ctx, string(reason), n)
	return n, nil
}

// VerifyAccessToken returns the claims of a valid, unrevoked access token. Every
// rejection is ErrUnauthorized; the cause is recorded in the audit log.
func (s *TokenService) VerifyAccessToken(ctx context.Context, token string) (*security.AccessClaims, error) {
	claims, err := s.verifier.Verify(ctx, token)
	if err == nil {
		return claims, nil
	}
	if !security.IsRejected(err) {
		return nil, transient("verify access token", err)
	}
	reason := "invalid"
	if errors.Is(err, security.ErrRevokedToken) {
		reason = "revoked"
	}
	s.logEvent(ctx, &auditdomain.Event{
		EventType:    auditdomain.EventTokenValidationFailed,
		Category:     auditdomain.CategoryAuth,
		Severity:     auditdomain.SeverityLow,
		Details:      auditdomain.Details{"reason": reason},
		ErrorMessage: err.Error(),
	})
	return nil, unauthorized(err)
}

// RevokeAccessToken blacklists a valid access token until it expires.
func (s *TokenService) RevokeAccessToken(ctx context.Context, token, reason string) error {
	claims, err := s.verifier.Verify(ctx, token)
	if err != nil {
		if security.IsRejected(err) {
			return unauthorized(err)
		}
		return transient("verify access token", err)
	}
	if err := s.verifier.Revoke(ctx, claims, reason); err != nil {
		return transient("blacklist access token", err)
	}
	s.logEvent(ctx, &auditdomain.Event{
		AccountID: claims.Subject,
		SessionID: claims.SessionID,
		EventType: auditdomain.EventAccessTokenRevoked,
		Category:  auditdomain.CategoryAuth,
		Severity:  auditdomain.SeverityLow,
		Details:   auditdomain.Details{"reason": reason, "jti": claims.ID},
		Success:   true,
	})
	s.metrics.Revoked(ctx, reason, 1)
	return nil
}

// LogEvent appends a security event. Failures are logged, never returned.
func (s *TokenService) LogEvent(ctx context.Context, e *auditdomain.Event) {
	s.logEvent(ctx, e)
}

// RecentEvents returns the account's events from the last windowDays days, newest first.
func (s *TokenService) RecentEvents(ctx context.Context, accountID string, windowDays, limit int) ([]*auditdomain.Event, error) {
	if s.reader == nil {
		return nil, nil
	}
	events, err := s.reader.Recent(ctx, accountID, windowDays, limit)
	if err != nil {
		return nil, transient("recent events", err)
	}
	return events, nil
}

// ActiveSessions lists the account's active sessions, oldest first.
func (s *TokenService) ActiveSessions(ctx context.Context, accountID string) ([]*sessiondomain.Session, error) {
	list, err := s.sessions.ListActiveSessions(ctx, accountID, s.now())
	if err != nil {
		return nil, transient("list sessions", err)
	}
	return list, nil
}

// SecuritySummary returns the account's active sessions and its last events of the past 30 days.
func (s *TokenService) SecuritySummary(ctx context.Context, accountID string) (*SecuritySummary, error) {
	active, err := s.ActiveSessions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	events, err := s.RecentEvents(ctx, accountID, summaryWindowDays, summaryEventLimit)
	if err != nil {
		return nil, err
	}
	return &SecuritySummary{ActiveSessions: active, RecentEvents: events}, nil
}

// SweepExpired deletes expired sessions, refresh tokens, and blacklist entries.
func (s *TokenService) SweepExpired(ctx context.Context) (sessiondomain.SweepCounts, int, error) {
	counts, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return counts, 0, transient("sweep sessions", err)
	}
	purged, err := s.verifier.DeleteExpired(ctx)
	if err != nil {
		return counts, 0, transient("sweep blacklist", err)
	}
	return counts, purged, nil
}

func (s *TokenService) lookupActive(ctx context.Context, secret string, now time.Time) (*sessiondomain.RefreshToken, error) {
	if secret == "" {
		return nil, nil
	}
	tok, err := s.sessions.FindActiveRefreshToken(ctx, security.HashToken(secret), now)
	if err != nil {
		return nil, transient("find refresh token", err)
	}
	if tok == nil || !security.TokenHashEqual(secret, tok.TokenHash) {
		return nil, nil
	}
	return tok, nil
}

func (s *TokenService) logEvent(ctx context.Context, e *auditdomain.Event) {
	if s.events == nil || e == nil {
		return
	}
	s.events.LogEvent(ctx, e)
}

type sessionNotice struct {
	AccountID string    `json:"account_id"`
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

func (s *TokenService) notify(ctx context.Context, topic string, v sessionNotice) {
	if err := notify.PublishJSON(ctx, s.publisher, topic, v); err != nil {
		s.logger.Warn("token service: publish failed", zap.String("topic", topic), zap.Error(err))
	}
}
