package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"auth-session-core/internal/account/domain"
)

// MemoryRepository is an in-process account store for tests and local runs.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[string]*domain.Account)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) Create(ctx context.Context, a *domain.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if strings.EqualFold(existing.Email, a.Email) {
			return ErrDuplicateEmail
		}
	}
	cp := *a
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	r.accounts[a.ID] = &cp
	return nil
}

func (r *MemoryRepository) RecordFailedLogin(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		a.FailedLoginAttempts++
		a.UpdatedAt = at
	}
	return nil
}

// RecordLogin stamps a successful login and clears the failed counter.
// The session memory store calls it inside its own critical section.
func (r *MemoryRepository) RecordLogin(id, ip string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return false
	}
	t := at
	a.LastLoginAt = &t
	a.LastLoginIP = ip
	a.FailedLoginAttempts = 0
	a.UpdatedAt = at
	return true
}

func (r *MemoryRepository) SetActive(ctx context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		a.IsActive = active
		a.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *MemoryRepository) SetMaxSessions(ctx context.Context, id string, limit int) error {
	if limit < 0 {
		return errors.New("max sessions must not be negative")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		a.MaxConcurrentSessions = limit
	}
	return nil
}
