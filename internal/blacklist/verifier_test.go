package blacklist

import (
	"context"
	"errors"
	"testing"
	"time"

	"auth-session-core/internal/blacklist/repository"
	"auth-session-core/internal/security"
)

type failingRepo struct{ repository.Repository }

func (failingRepo) Contains(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("db down")
}

func TestVerifier_VerifyAndRevoke(t *testing.T) {
	ctx := context.Background()
	tokens := security.NewTestTokenProvider()
	v := NewVerifier(tokens, repository.NewMemoryRepository())

	tok, jti, _, err := tokens.IssueAccess(security.AccessSubject{AccountID: "u1"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	claims, err := v.Verify(ctx, tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.ID != jti {
		t.Errorf("jti = %q, want %q", claims.ID, jti)
	}

	if err := v.Revoke(ctx, claims, "logout"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	_, err = v.Verify(ctx, tok)
	if !errors.Is(err, security.ErrRevokedToken) {
		t.Fatalf("Verify after revoke err = %v, want ErrRevokedToken", err)
	}
	if !security.IsRejected(err) {
		t.Error("revoked error should count as rejected")
	}
	if n, _ := v.CountActive(ctx); n != 1 {
		t.Errorf("CountActive = %d, want 1", n)
	}
}

func TestVerifier_InvalidTokenSkipsLookup(t *testing.T) {
	v := NewVerifier(security.NewTestTokenProvider(), failingRepo{})
	if _, err := v.Verify(context.Background(), "garbage"); !errors.Is(err, security.ErrInvalidToken) {
		t.Fatalf("Verify err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifier_StoreFailureIsNotRejection(t *testing.T) {
	tokens := security.NewTestTokenProvider()
	v := NewVerifier(tokens, failingRepo{})
	tok, _, _, _ := tokens.IssueAccess(security.AccessSubject{AccountID: "u1"})
	_, err := v.Verify(context.Background(), tok)
	if err == nil || security.IsRejected(err) {
		t.Fatalf("Verify err = %v, want wrapped store error", err)
	}
}

func TestVerifier_RevokeUsesTokenExpiry(t *testing.T) {
	ctx := context.Background()
	tokens := security.NewTestTokenProvider()
	repo := repository.NewMemoryRepository()
	v := NewVerifier(tokens, repo)
	tok, _, exp, _ := tokens.IssueAccess(security.AccessSubject{AccountID: "u1"})
	claims, _ := v.Verify(ctx, tok)
	_ = v.Revoke(ctx, claims, "admin")

	if ok, _ := repo.Contains(ctx, claims.ID, exp.Add(-time.Second)); !ok {
		t.Error("entry should be live until the token expires")
	}
	if ok, _ := repo.Contains(ctx, claims.ID, exp.Add(time.Second)); ok {
		t.Error("entry should lapse with the token")
	}
	if err := v.Revoke(ctx, &security.AccessClaims{}, "x"); !errors.Is(err, security.ErrInvalidToken) {
		t.Errorf("Revoke without jti err = %v", err)
	}
}
