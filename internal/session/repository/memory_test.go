package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"auth-session-core/internal/session/domain"
)

type stubAccounts struct {
	mu     sync.Mutex
	known  map[string]bool
	logins int
}

func (s *stubAccounts) RecordLogin(accountID, ip string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known[accountID] {
		return false
	}
	s.logins++
	return true
}

var testSeq int

func issueParams(accountID string, now time.Time, limit int) CreateParams {
	testSeq++
	tokID := fmt.Sprintf("tok-%d", testSeq)
	return CreateParams{
		Token: domain.RefreshToken{
			ID:        tokID,
			AccountID: accountID,
			TokenHash: "hash-" + tokID,
			FamilyID:  "fam-" + tokID,
			CreatedAt: now,
			ExpiresAt: now.Add(7 * 24 * time.Hour),
		},
		Session: domain.Session{
			ID:             fmt.Sprintf("sess-%d", testSeq),
			AccountID:      accountID,
			IPAddress:      "10.0.0.1",
			CreatedAt:      now,
			LastActivityAt: now,
			ExpiresAt:      now.Add(7 * 24 * time.Hour),
		},
		MaxSessions: limit,
	}
}

func TestMemoryRepository_CreateSession_UnknownAccount(t *testing.T) {
	r := NewMemoryRepository(&stubAccounts{known: map[string]bool{}})
	_, err := r.CreateSession(context.Background(), issueParams("ghost", time.Now().UTC(), 5))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("CreateSession err = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepository_CreateSession_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	accts := &stubAccounts{known: map[string]bool{"a1": true}}
	r := NewMemoryRepository(accts)
	base := time.Now().UTC()

	var first CreateParams
	for i := 0; i < 3; i++ {
		p := issueParams("a1", base.Add(time.Duration(i)*time.Second), 3)
		if i == 0 {
			first = p
		}
		res, err := r.CreateSession(ctx, p)
		if err != nil {
			t.Fatalf("CreateSession #%d: %v", i, err)
		}
		if len(res.EvictedSessionIDs) != 0 {
			t.Fatalf("CreateSession #%d evicted %v", i, res.EvictedSessionIDs)
		}
	}
	res, err := r.CreateSession(ctx, issueParams("a1", base.Add(10*time.Second), 3))
	if err != nil {
		t.Fatalf("CreateSession over limit: %v", err)
	}
	if len(res.EvictedSessionIDs) != 1 || res.EvictedSessionIDs[0] != first.Session.ID {
		t.Fatalf("evicted = %v, want [%s]", res.EvictedSessionIDs, first.Session.ID)
	}
	n, _ := r.CountActiveSessions(ctx, "a1", base.Add(11*time.Second))
	if n != 3 {
		t.Fatalf("active sessions = %d, want 3", n)
	}
	s, _ := r.GetSession(ctx, first.Session.ID)
	if s.IsActive || s.TerminationReason != domain.ReasonSessionLimitExceeded {
		t.Errorf("evicted session = %+v", s)
	}
	tok, _ := r.GetRefreshToken(ctx, first.Token.ID)
	if tok.IsActive {
		t.Error("evicted session's refresh token should be inactive")
	}
	if accts.logins != 4 {
		t.Errorf("logins recorded = %d, want 4", accts.logins)
	}
}

func TestMemoryRepository_CreateSession_ConcurrentRespectsLimit(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository(nil)
	now := time.Now().UTC()
	params := make([]CreateParams, 12)
	for i := range params {
		params[i] = issueParams("a1", now, 5)
	}
	var wg sync.WaitGroup
	for i := range params {
		wg.Add(1)
		go func(p CreateParams) {
			defer wg.Done()
			if _, err := r.CreateSession(ctx, p); err != nil {
				t.Errorf("CreateSession: %v", err)
			}
		}(params[i])
	}
	wg.Wait()
	n, _ := r.CountActiveSessions(ctx, "a1", now)
	if n != 5 {
		t.Fatalf("active sessions = %d, want 5", n)
	}
}

func TestMemoryRepository_RotateRefreshToken(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository(nil)
	now := time.Now().UTC()
	p := issueParams("a1", now, 5)
	if _, err := r.CreateSession(ctx, p); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	newTok := p.Token
	newTok.ID = "tok-rotated"
	newTok.TokenHash = "hash-rotated"
	later := now.Add(time.Minute)
	sid, err := r.RotateRefreshToken(ctx, RotateParams{OldTokenID: p.Token.ID, NewToken: newTok, IPAddress: "10.0.0.9", Now: later})
	if err != nil {
		t.Fatalf("RotateRefreshToken: %v", err)
	}
	if sid != p.Session.ID {
		t.Errorf("session id = %q, want %q", sid, p.Session.ID)
	}

	if got, _ := r.FindActiveRefreshToken(ctx, p.Token.TokenHash, later); got != nil {
		t.Error("old token should no longer be findable")
	}
	got, _ := r.FindActiveRefreshToken(ctx, "hash-rotated", later)
	if got == nil || got.FamilyID != p.Token.FamilyID {
		t.Fatalf("rotated token = %+v", got)
	}
	s, _ := r.GetSession(ctx, p.Session.ID)
	if s.RefreshTokenID != "tok-rotated" || s.IPAddress != "10.0.0.9" || !s.LastActivityAt.Equal(later) {
		t.Errorf("session after rotation = %+v", s)
	}

	_, err = r.RotateRefreshToken(ctx, RotateParams{OldTokenID: p.Token.ID, NewToken: newTok, Now: later})
	if !errors.Is(err, ErrTokenNotActive) {
		t.Fatalf("second rotation err = %v, want ErrTokenNotActive", err)
	}
}

func TestMemoryRepository_RotateRace(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository(nil)
	now := time.Now().UTC()
	p := issueParams("a1", now, 5)
	_, _ = r.CreateSession(ctx, p)

	const racers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nt := p.Token
			nt.ID = fmt.Sprintf("race-%d", i)
			nt.TokenHash = fmt.Sprintf("race-hash-%d", i)
			_, err := r.RotateRefreshToken(ctx, RotateParams{OldTokenID: p.Token.ID, NewToken: nt, Now: now})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrTokenNotActive) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("successful rotations = %d, want 1", wins)
	}
}

func TestMemoryRepository_TerminateSession_Idempotent(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository(nil)
	now := time.Now().UTC()
	p := issueParams("a1", now, 5)
	_, _ = r.CreateSession(ctx, p)

	ok, err := r.TerminateSession(ctx, p.Session.ID, domain.ReasonLogout, now)
	if err != nil || !ok {
		t.Fatalf("first TerminateSession = %v, %v", ok, err)
	}
	ok, err = r.TerminateSession(ctx, p.Session.ID, domain.ReasonLogout, now)
	if err != nil || ok {
		t.Fatalf("second TerminateSession = %v, %v", ok, err)
	}
	ok, _ = r.TerminateSession(ctx, "missing", domain.ReasonLogout, now)
	if ok {
		t.Fatal("TerminateSession on missing id should be false")
	}
	tok, _ := r.GetRefreshToken(ctx, p.Token.ID)
	if tok.IsActive {
		t.Error("terminating a session must deactivate its refresh token")
	}
}

func TestMemoryRepository_RevokeFamily(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository(nil)
	now := time.Now().UTC()
	p := issueParams("a1", now, 5)
	_, _ = r.CreateSession(ctx, p)
	nt := p.Token
	nt.ID, nt.TokenHash = "tok-next", "hash-next"
	_, _ = r.RotateRefreshToken(ctx, RotateParams{OldTokenID: p.Token.ID, NewToken: nt, Now: now})

	n, err := r.RevokeFamily(ctx, p.Token.FamilyID, domain.ReasonSuspicious, now)
	if err != nil {
		t.Fatalf("RevokeFamily: %v", err)
	}
	if n != 1 {
		t.Errorf("deactivated = %d, want 1", n)
	}
	fam, _ := r.ListFamily(ctx, p.Token.FamilyID)
	if len(fam) != 2 {
		t.Fatalf("family size = %d, want 2", len(fam))
	}
	for _, tok := range fam {
		if tok.IsActive {
			t.Errorf("token %s still active", tok.ID)
		}
	}
	s, _ := r.GetSession(ctx, p.Session.ID)
	if s.IsActive || s.TerminationReason != domain.ReasonSuspicious {
		t.Errorf("session after family revoke = %+v", s)
	}
}

func TestMemoryRepository_SweepAndMaintenance(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository(nil)
	now := time.Now().UTC()

	expired := issueParams("a1", now.Add(-8*24*time.Hour), 5)
	_, _ = r.CreateSession(ctx, expired)
	if got, _ := r.FindActiveRefreshToken(ctx, expired.Token.TokenHash, now); got != nil {
		t.Fatal("expired token must not be findable")
	}

	idle := issueParams("a2", now.Add(-40*24*time.Hour), 5)
	idle.Token.ExpiresAt = now.Add(24 * time.Hour)
	idle.Session.ExpiresAt = now.Add(24 * time.Hour)
	_, _ = r.CreateSession(ctx, idle)

	fresh := issueParams("a3", now, 5)
	_, _ = r.CreateSession(ctx, fresh)

	counts, err := r.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if counts.RefreshTokens != 1 || counts.Sessions != 1 {
		t.Errorf("DeleteExpired = %+v, want 1/1", counts)
	}
	if tok, _ := r.GetRefreshToken(ctx, expired.Token.ID); tok != nil {
		t.Error("expired token should be deleted")
	}

	cutoff := now.Add(-30 * 24 * time.Hour)
	n, _ := r.DeactivateIdleRefreshTokens(ctx, cutoff)
	if n != 1 {
		t.Errorf("DeactivateIdleRefreshTokens = %d, want 1", n)
	}
	n, _ = r.TerminateIdleSessions(ctx, cutoff, now)
	if n != 1 {
		t.Errorf("TerminateIdleSessions = %d, want 1", n)
	}
	s, _ := r.GetSession(ctx, idle.Session.ID)
	if s.TerminationReason != domain.ReasonInactivityTimeout {
		t.Errorf("idle reason = %q", s.TerminationReason)
	}

	st, _ := r.Stats(ctx, now)
	if st.ActiveSessions != 1 || st.AccountsWithActiveSessions != 1 || st.ActiveRefreshTokens != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestMemoryRepository_TerminateOrphanedSessions(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository(nil)
	now := time.Now().UTC()
	p := issueParams("a1", now, 5)
	_, _ = r.CreateSession(ctx, p)
	ok := issueParams("a1", now, 5)
	_, _ = r.CreateSession(ctx, ok)

	r.mu.Lock()
	r.tokens[p.Token.ID].IsActive = false
	r.mu.Unlock()

	n, err := r.TerminateOrphanedSessions(ctx, now)
	if err != nil {
		t.Fatalf("TerminateOrphanedSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("orphans = %d, want 1", n)
	}
	s, _ := r.GetSession(ctx, p.Session.ID)
	if s.IsActive || s.TerminationReason != domain.ReasonOrphanedCleanup {
		t.Errorf("orphan session = %+v", s)
	}
	if s2, _ := r.GetSession(ctx, ok.Session.ID); !s2.IsActive {
		t.Error("healthy session should stay active")
	}
}
