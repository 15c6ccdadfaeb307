package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenTypeAccess is the token_type claim carried by every access token.
const TokenTypeAccess = "access"

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or fails signature checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrRevokedToken is returned when a well-formed token's jti is blacklisted.
	ErrRevokedToken = errors.New("revoked token")
)

// IsRejected reports whether err is one of the token rejection errors.
// Callers that only need accept/reject should use this instead of comparing sentinels.
func IsRejected(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrRevokedToken)
}

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	IsAdmin   bool   `json:"is_admin"`
	SessionID string `json:"session_id,omitempty"`
	TokenType string `json:"token_type"`
}

// AccessSubject is what an access token asserts about its bearer.
type AccessSubject struct {
	AccountID string
	Email     string
	IsAdmin   bool
	SessionID string
}

// TokenProvider issues and validates HS256 access tokens.
type TokenProvider struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	nowF      func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with secret. issuer is set on
// claims and required on validation.
func NewTokenProvider(secret []byte, issuer string, accessTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		secret:    secret,
		issuer:    issuer,
		accessTTL: accessTTL,
		nowF:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the provider's clock. For tests.
func (p *TokenProvider) WithClock(nowF func() time.Time) *TokenProvider {
	p.nowF = nowF
	return p
}

// AccessTTL returns the lifetime of issued access tokens.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// IssueAccess issues a short-lived access JWT for subject.
// Returns the token string, its jti, and expiration time.
func (p *TokenProvider) IssueAccess(subject AccessSubject) (token string, jti string, expiresAt time.Time, err error) {
	if subject.AccountID == "" {
		return "", "", time.Time{}, ErrInvalidToken
	}
	jti = uuid.New().String()
	now := p.nowF()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject.AccountID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:     subject.Email,
		IsAdmin:   subject.IsAdmin,
		SessionID: subject.SessionID,
		TokenType: TokenTypeAccess,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err = t.SignedString(p.secret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, expiresAt, nil
}

// ValidateAccess parses and validates the access token (signature, alg, exp, iss, token_type).
// It does not consult the blacklist; see blacklist.Verifier for the full check.
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowF),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != TokenTypeAccess || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
