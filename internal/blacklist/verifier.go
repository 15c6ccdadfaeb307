// Package blacklist pairs access-token validation with the revocation list.
package blacklist

import (
	"context"
	"fmt"
	"time"

	"auth-session-core/internal/blacklist/domain"
	"auth-session-core/internal/blacklist/repository"
	"auth-session-core/internal/security"
)

// Verifier validates access tokens and consults the blacklist on every call.
type Verifier struct {
	tokens *security.TokenProvider
	repo   repository.Repository
	nowF   func() time.Time
}

// NewVerifier returns a Verifier over tokens and repo.
func NewVerifier(tokens *security.TokenProvider, repo repository.Repository) *Verifier {
	return &Verifier{tokens: tokens, repo: repo, nowF: func() time.Time { return time.Now().UTC() }}
}

// Verify returns the claims of a valid, unrevoked access token. It returns
// security.ErrInvalidToken for tokens that fail parsing or claim checks and
// security.ErrRevokedToken for blacklisted ones. Store failures are returned wrapped.
func (v *Verifier) Verify(ctx context.Context, token string) (*security.AccessClaims, error) {
	claims, err := v.tokens.ValidateAccess(token)
	if err != nil {
		return nil, err
	}
	revoked, err := v.repo.Contains(ctx, claims.ID, v.nowF())
	if err != nil {
		return nil, fmt.Errorf("blacklist lookup: %w", err)
	}
	if revoked {
		return nil, security.ErrRevokedToken
	}
	return claims, nil
}

// Revoke blacklists the token's jti until the token itself would expire.
func (v *Verifier) Revoke(ctx context.Context, claims *security.AccessClaims, reason string) error {
	if claims == nil || claims.ID == "" {
		return security.ErrInvalidToken
	}
	expiresAt := v.nowF().Add(v.tokens.AccessTTL())
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return v.repo.Add(ctx, &domain.Entry{
		JTI:       claims.ID,
		AccountID: claims.Subject,
		TokenType: claims.TokenType,
		Reason:    reason,
		RevokedAt: v.nowF(),
		ExpiresAt: expiresAt,
	})
}

// DeleteExpired purges entries whose tokens have expired anyway.
func (v *Verifier) DeleteExpired(ctx context.Context) (int, error) {
	return v.repo.DeleteExpired(ctx, v.nowF())
}

// CountActive returns the number of unexpired blacklist entries.
func (v *Verifier) CountActive(ctx context.Context) (int, error) {
	return v.repo.CountActive(ctx, v.nowF())
}
