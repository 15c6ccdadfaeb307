package repository

import (
	"context"
	"sync"
	"time"

	"auth-session-core/internal/blacklist/domain"
)

// MemoryRepository is an in-process blacklist.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]domain.Entry
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]domain.Entry)}
}

func (r *MemoryRepository) Add(ctx context.Context, e *domain.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.JTI]; !ok {
		r.entries[e.JTI] = *e
	}
	return nil
}

func (r *MemoryRepository) Contains(ctx context.Context, jti string, now time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[jti]
	return ok && now.Before(e.ExpiresAt), nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for jti, e := range r.entries {
		if !now.Before(e.ExpiresAt) {
			delete(r.entries, jti)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountActive(ctx context.Context, now time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if now.Before(e.ExpiresAt) {
			n++
		}
	}
	return n, nil
}
