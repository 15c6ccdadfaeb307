package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	accountdomain "auth-session-core/internal/account/domain"
	"auth-session-core/internal/audit"
	auditdomain "auth-session-core/internal/audit/domain"
	"auth-session-core/internal/security"
	sessiondomain "auth-session-core/internal/session/domain"
)

// AccountStore is the account access needed by password login.
type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error)
	RecordFailedLogin(ctx context.Context, id string, at time.Time) error
}

// LoginResult is a fresh credential pair plus the signed session-info payload for the client.
type LoginResult struct {
	*TokenPair
	// SessionPayload is empty when no PayloadSigner is configured.
	SessionPayload string
}

// AuthService implements password login and logout over the TokenService.
type AuthService struct {
	accounts AccountStore
	hasher   *security.Hasher
	tokens   *TokenService
	events   audit.EventLogger
	signer   *security.PayloadSigner
	logger   *zap.Logger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService returns an AuthService. signer and logger may be nil.
func NewAuthService(accounts AccountStore, hasher *security.Hasher, tokens *TokenService, events audit.EventLogger, signer *security.PayloadSigner, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		events:   events,
		signer:   signer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Login authenticates email/password and issues a credential pair. Unknown accounts and
// wrong passwords both return ErrInvalidCredentials after the same bcrypt work.
func (s *AuthService) Login(ctx context.Context, email, password string, client sessiondomain.ClientContext, rememberMe bool) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		s.logEvent(ctx, &auditdomain.Event{
			EventType: auditdomain.EventEmptyLoginFields,
			Category:  auditdomain.CategoryAuth,
			Severity:  auditdomain.SeverityLow,
			IPAddress: client.IPAddress,
			UserAgent: client.UserAgent,
			Details:   auditdomain.Details{"email": email},
		})
		return nil, ErrInvalidCredentials
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, transient("load account", err)
	}
	hash := s.placeholderHash()
	if account != nil {
		hash = account.PasswordHash
	}
	if !s.hasher.Verify([]byte(password), hash) || account == nil {
		accountID := ""
		if account != nil {
			accountID = account.ID
			if err := s.accounts.RecordFailedLogin(ctx, account.ID, s.now()); err != nil {
				s.logger.Warn("auth: record failed login", zap.String("account_id", account.ID), zap.Error(err))
			}
		}
		s.logEvent(ctx, &auditdomain.Event{
			AccountID: accountID,
			EventType: auditdomain.EventFailedLogin,
			Category:  auditdomain.CategoryAuth,
			Severity:  auditdomain.SeverityMedium,
			IPAddress: client.IPAddress,
			UserAgent: client.UserAgent,
			Details:   auditdomain.Details{"email": email},
		})
		return nil, ErrInvalidCredentials
	}
	if !account.IsActive {
		s.logEvent(ctx, &auditdomain.Event{
			AccountID: account.ID,
			EventType: auditdomain.EventInactiveAccountLogin,
			Category:  auditdomain.CategoryAuth,
			Severity:  auditdomain.SeverityMedium,
			IPAddress: client.IPAddress,
			UserAgent: client.UserAgent,
			Details:   auditdomain.Details{"email": email},
		})
		return nil, ErrAccountInactive
	}

	pair, err := s.tokens.IssueTokenPair(ctx, account, client, rememberMe)
	if err != nil {
		return nil, err
	}
	res := &LoginResult{TokenPair: pair}
	if s.signer != nil {
		res.SessionPayload, err = s.signer.Sign(security.SessionInfo{
			SessionID:         pair.SessionID,
			DeviceFingerprint: pair.DeviceFingerprint,
			RememberMe:        rememberMe,
		})
		if err != nil {
			return nil, err
		}
	}
	s.logger.Info("auth: login", zap.String("account_id", account.ID), zap.String("session_id", pair.SessionID))
	return res, nil
}

// Refresh rotates the refresh secret. A verified sessionPayload supplies the expected
// device fingerprint for theft detection and is re-signed for the new pair. A payload
// that fails verification (stale, forged, malformed) is recorded and ignored, so the
// refresh proceeds without a fingerprint check and no payload is returned.
func (s *AuthService) Refresh(ctx context.Context, refreshSecret, sessionPayload string, client sessiondomain.ClientContext) (*LoginResult, error) {
	expected := ""
	var info *security.SessionInfo
	if sessionPayload != "" && s.signer != nil {
		var err error
		info, err = s.signer.Verify(sessionPayload)
		if err != nil {
			s.logEvent(ctx, &auditdomain.Event{
				EventType:    auditdomain.EventSessionPayloadRejected,
				Category:     auditdomain.CategoryAuth,
				Severity:     auditdomain.SeverityLow,
				IPAddress:    client.IPAddress,
				UserAgent:    client.UserAgent,
				ErrorMessage: err.Error(),
			})
			info = nil
		} else {
			expected = info.DeviceFingerprint
		}
	}
	pair, err := s.tokens.Refresh(ctx, refreshSecret, client, expected)
	if err != nil {
		return nil, err
	}
	res := &LoginResult{TokenPair: pair}
	if info != nil {
		res.SessionPayload, err = s.signer.Sign(security.SessionInfo{
			SessionID:         pair.SessionID,
			DeviceFingerprint: pair.DeviceFingerprint,
			RememberMe:        info.RememberMe,
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Logout revokes the refresh secret and, when given, blacklists the access token.
// Either may be empty. Rejected tokens are ignored; logout always succeeds for the caller
// unless the store fails.
func (s *AuthService) Logout(ctx context.Context, refreshSecret, accessToken string, client sessiondomain.ClientContext) error {
	var accountID, sessionID string
	if accessToken != "" {
		if claims, err := s.tokens.verifier.Verify(ctx, accessToken); err == nil {
			accountID, sessionID = claims.Subject, claims.SessionID
			if err := s.tokens.RevokeAccessToken(ctx, accessToken, string(sessiondomain.ReasonLogout)); err != nil && !security.IsRejected(err) {
				return err
			}
		}
	}
	revoked := false
	if refreshSecret != "" {
		ok, err := s.tokens.RevokeRefreshToken(ctx, refreshSecret, sessiondomain.ReasonLogout)
		if err != nil {
			return err
		}
		revoked = ok
	}
	if !revoked && sessionID != "" {
		if _, err := s.tokens.TerminateSession(ctx, sessionID, sessiondomain.ReasonLogout); err != nil {
			return err
		}
	}
	s.logEvent(ctx, &auditdomain.Event{
		AccountID: accountID,
		SessionID: sessionID,
		EventType: auditdomain.EventLogout,
		Category:  auditdomain.CategoryAuth,
		Severity:  auditdomain.SeverityLow,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Success:   true,
	})
	return nil
}

// placeholderHash is verified against for unknown accounts so that response time does
// not reveal whether an email is registered.
func (s *AuthService) placeholderHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash([]byte("placeholder-password-for-timing"))
		if err != nil {
			s.logger.Error("auth: placeholder hash", zap.Error(err))
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func (s *AuthService) logEvent(ctx context.Context, e *auditdomain.Event) {
	if s.events != nil {
		s.events.LogEvent(ctx, e)
	}
}
