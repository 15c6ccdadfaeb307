package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"auth-session-core/internal/session/domain"
)

// LoginRecorder stamps a successful login on an account. It reports false when the
// account does not exist.
type LoginRecorder interface {
	RecordLogin(accountID, ip string, at time.Time) bool
}

// MemoryRepository is an in-process Repository. A single mutex serializes every
// method, which gives each one the atomicity of a database transaction.
type MemoryRepository struct {
	mu       sync.Mutex
	accounts LoginRecorder
	seq      int64
	tokens   map[string]*memToken
	byHash   map[string]string
	sessions map[string]*memSession
}

type memToken struct {
	domain.RefreshToken
	seq int64
}

type memSession struct {
	domain.Session
	seq int64
}

// NewMemoryRepository returns an empty store. accounts may be nil, in which case
// every account id is accepted and login stamping is skipped.
func NewMemoryRepository(accounts LoginRecorder) *MemoryRepository {
	return &MemoryRepository{
		accounts: accounts,
		tokens:   make(map[string]*memToken),
		byHash:   make(map[string]string),
		sessions: make(map[string]*memSession),
	}
}

func (r *MemoryRepository) FindActiveRefreshToken(ctx context.Context, tokenHash string, now time.Time) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHash[tokenHash]
	if !ok {
		return nil, nil
	}
	t := r.tokens[id]
	if t == nil || !t.ValidAt(now) {
		return nil, nil
	}
	cp := t.RefreshToken
	return &cp, nil
}

func (r *MemoryRepository) GetRefreshToken(ctx context.Context, id string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return nil, nil
	}
	cp := t.RefreshToken
	return &cp, nil
}

func (r *MemoryRepository) ListFamily(ctx context.Context, familyID string) ([]*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var family []*memToken
	for _, t := range r.tokens {
		if t.FamilyID == familyID {
			family = append(family, t)
		}
	}
	sort.Slice(family, func(i, j int) bool { return family[i].seq < family[j].seq })
	out := make([]*domain.RefreshToken, 0, len(family))
	for _, t := range family {
		cp := t.RefreshToken
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryRepository) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := s.Session
	return &cp, nil
}

func (r *MemoryRepository) GetSessionByRefreshToken(ctx context.Context, tokenID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.sessionForToken(tokenID); s != nil {
		cp := s.Session
		return &cp, nil
	}
	return nil, nil
}

func (r *MemoryRepository) CountActiveSessions(ctx context.Context, accountID string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activeSessions(accountID, now)), nil
}

func (r *MemoryRepository) ListActiveSessions(ctx context.Context, accountID string, now time.Time) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := r.activeSessions(accountID, now)
	out := make([]*domain.Session, 0, len(active))
	for _, s := range active {
		cp := s.Session
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryRepository) CreateSession(ctx context.Context, p CreateParams) (*CreateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := p.Session.CreatedAt
	accountID := p.Session.AccountID
	if r.accounts != nil && !r.accounts.RecordLogin(accountID, p.Session.IPAddress, now) {
		return nil, ErrNotFound
	}

	res := &CreateResult{}
	active := r.activeSessions(accountID, now)
	limit := p.MaxSessions
	if limit < 1 {
		limit = 1
	}
	for i := 0; len(active)-i >= limit; i++ {
		victim := active[i]
		r.terminateLocked(victim, domain.ReasonSessionLimitExceeded, now)
		res.EvictedSessionIDs = append(res.EvictedSessionIDs, victim.ID)
	}

	r.seq++
	tok := &memToken{RefreshToken: p.Token, seq: r.seq}
	tok.IsActive = true
	r.tokens[tok.ID] = tok
	r.byHash[tok.TokenHash] = tok.ID

	r.seq++
	sess := &memSession{Session: p.Session, seq: r.seq}
	sess.RefreshTokenID = tok.ID
	sess.IsActive = true
	r.sessions[sess.ID] = sess
	return res, nil
}

func (r *MemoryRepository) RotateRefreshToken(ctx context.Context, p RotateParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.tokens[p.OldTokenID]
	if !ok || !old.ValidAt(p.Now) {
		return "", ErrTokenNotActive
	}
	sess := r.sessionForToken(old.ID)
	if sess == nil || !sess.IsActive {
		return "", ErrTokenNotActive
	}

	used := p.Now
	old.IsActive = false
	old.LastUsedAt = &used

	r.seq++
	tok := &memToken{RefreshToken: p.NewToken, seq: r.seq}
	tok.IsActive = true
	r.tokens[tok.ID] = tok
	r.byHash[tok.TokenHash] = tok.ID

	sess.RefreshTokenID = tok.ID
	sess.LastActivityAt = p.Now
	if p.IPAddress != "" {
		sess.IPAddress = p.IPAddress
	}
	return sess.ID, nil
}

func (r *MemoryRepository) RevokeRefreshToken(ctx context.Context, tokenID string, reason domain.TerminationReason, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenID]
	if !ok || !t.IsActive {
		return false, nil
	}
	t.IsActive = false
	if s := r.sessionForToken(tokenID); s != nil && s.IsActive {
		r.endSession(s, reason, now)
	}
	return true, nil
}

func (r *MemoryRepository) RevokeFamily(ctx context.Context, familyID string, reason domain.TerminationReason, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tokens {
		if t.FamilyID != familyID {
			continue
		}
		if t.IsActive {
			t.IsActive = false
			n++
		}
		if s := r.sessionForToken(t.ID); s != nil && s.IsActive {
			r.endSession(s, reason, now)
		}
	}
	return n, nil
}

func (r *MemoryRepository) TerminateSession(ctx context.Context, sessionID string, reason domain.TerminationReason, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || !s.IsActive {
		return false, nil
	}
	r.terminateLocked(s, reason, now)
	return true, nil
}

func (r *MemoryRepository) TerminateAllSessions(ctx context.Context, accountID string, reason domain.TerminationReason, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.AccountID == accountID && s.IsActive {
			r.terminateLocked(s, reason, now)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, now time.Time) (domain.SweepCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c domain.SweepCounts
	for id, s := range r.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(r.sessions, id)
			c.Sessions++
		}
	}
	for id, t := range r.tokens {
		if !now.Before(t.ExpiresAt) {
			delete(r.tokens, id)
			delete(r.byHash, t.TokenHash)
			c.RefreshTokens++
			for _, s := range r.sessions {
				if s.RefreshTokenID == id {
					s.RefreshTokenID = ""
				}
			}
		}
	}
	return c, nil
}

func (r *MemoryRepository) DeactivateIdleRefreshTokens(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tokens {
		last := t.CreatedAt
		if t.LastUsedAt != nil {
			last = *t.LastUsedAt
		}
		if t.IsActive && !last.After(cutoff) {
			t.IsActive = false
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) TerminateIdleSessions(ctx context.Context, cutoff, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.IsActive && !s.LastActivityAt.After(cutoff) {
			r.terminateLocked(s, domain.ReasonInactivityTimeout, now)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) TerminateOrphanedSessions(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if !s.IsActive {
			continue
		}
		t, ok := r.tokens[s.RefreshTokenID]
		if s.RefreshTokenID == "" || !ok || !t.IsActive {
			r.endSession(s, domain.ReasonOrphanedCleanup, now)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) Stats(ctx context.Context, now time.Time) (domain.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var st domain.Stats
	for _, t := range r.tokens {
		if t.ValidAt(now) {
			st.ActiveRefreshTokens++
		}
		if !now.Before(t.ExpiresAt) {
			st.ExpiredRefreshTokens++
		}
	}
	accounts := make(map[string]struct{})
	for _, s := range r.sessions {
		if s.ValidAt(now) {
			st.ActiveSessions++
			accounts[s.AccountID] = struct{}{}
		}
		if !now.Before(s.ExpiresAt) {
			st.ExpiredSessions++
		}
	}
	st.AccountsWithActiveSessions = len(accounts)
	return st, nil
}

// activeSessions returns the account's active sessions ordered oldest first.
func (r *MemoryRepository) activeSessions(accountID string, now time.Time) []*memSession {
	var out []*memSession
	for _, s := range r.sessions {
		if s.AccountID == accountID && s.ValidAt(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (r *MemoryRepository) sessionForToken(tokenID string) *memSession {
	if tokenID == "" {
		return nil
	}
	for _, s := range r.sessions {
		if s.RefreshTokenID == tokenID {
			return s
		}
	}
	return nil
}

// terminateLocked ends the session and deactivates its current refresh token.
func (r *MemoryRepository) terminateLocked(s *memSession, reason domain.TerminationReason, now time.Time) {
	r.endSession(s, reason, now)
	if t, ok := r.tokens[s.RefreshTokenID]; ok {
		t.IsActive = false
	}
}

func (r *MemoryRepository) endSession(s *memSession, reason domain.TerminationReason, now time.Time) {
	at := now
	s.IsActive = false
	s.TerminatedAt = &at
	s.TerminationReason = reason
}
