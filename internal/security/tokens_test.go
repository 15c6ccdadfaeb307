package security

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenProvider_IssueAndValidate(t *testing.T) {
	p := NewTestTokenProvider()
	subject := AccessSubject{AccountID: "u1", Email: "u1@example.com", IsAdmin: true, SessionID: "s1"}

	access, jti, exp, err := p.IssueAccess(subject)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if access == "" || jti == "" {
		t.Fatal("access token or jti empty")
	}
	if exp.Before(time.Now()) {
		t.Fatal("expires at in the past")
	}

	claims, err := p.ValidateAccess(access)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "u1@example.com" || !claims.IsAdmin || claims.SessionID != "s1" {
		t.Errorf("ValidateAccess: got %+v", claims)
	}
	if claims.ID != jti {
		t.Errorf("jti = %q, want %q", claims.ID, jti)
	}
	if claims.TokenType != TokenTypeAccess {
		t.Errorf("token_type = %q, want access", claims.TokenType)
	}
}

func TestTokenProvider_UniqueJTI(t *testing.T) {
	p := NewTestTokenProvider()
	_, a, _, _ := p.IssueAccess(AccessSubject{AccountID: "u1"})
	_, b, _, _ := p.IssueAccess(AccessSubject{AccountID: "u1"})
	if a == b {
		t.Fatal("jti must be unique per token")
	}
}

func TestTokenProvider_IssueRequiresSubject(t *testing.T) {
	p := NewTestTokenProvider()
	if _, _, _, err := p.IssueAccess(AccessSubject{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("IssueAccess without account: err = %v", err)
	}
}

func TestTokenProvider_ValidateAccessInvalid(t *testing.T) {
	p := NewTestTokenProvider()
	now := time.Now().UTC()

	sign := func(method jwt.SigningMethod, key interface{}, claims AccessClaims) string {
		tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return tok
	}
	base := func() AccessClaims {
		return AccessClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        "jti-1",
				Subject:   "u1",
				Issuer:    "test-issuer",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			},
			TokenType: TokenTypeAccess,
		}
	}

	wrongType := base()
	wrongType.TokenType = "refresh"
	wrongIssuer := base()
	wrongIssuer.Issuer = "someone-else"
	expired := base()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	noExp := base()
	noExp.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "invalid-token"},
		{"wrong key", sign(jwt.SigningMethodHS256, []byte("another-secret-another-secret-xx"), base())},
		{"wrong token type", sign(jwt.SigningMethodHS256, []byte(testSecret), wrongType)},
		{"wrong issuer", sign(jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer)},
		{"expired", sign(jwt.SigningMethodHS256, []byte(testSecret), expired)},
		{"missing exp", sign(jwt.SigningMethodHS256, []byte(testSecret), noExp)},
		{"hs512", sign(jwt.SigningMethodHS512, []byte(testSecret), base())},
		{"alg none", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, base())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.ValidateAccess(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ValidateAccess: want ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestTokenProvider_ExpiresWithClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewTestTokenProvider().WithClock(func() time.Time { return now })
	tok, _, _, err := p.IssueAccess(AccessSubject{AccountID: "u1"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	now = now.Add(16 * time.Minute)
	if _, err := p.ValidateAccess(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ValidateAccess after expiry: got %v", err)
	}
}

func TestIsRejected(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrInvalidToken, true},
		{ErrRevokedToken, true},
		{fmt.Errorf("wrap: %w", ErrRevokedToken), true},
		{errors.New("other"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsRejected(tt.err); got != tt.want {
			t.Errorf("IsRejected(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
