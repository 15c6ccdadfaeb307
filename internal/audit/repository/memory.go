package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"auth-session-core/internal/audit/domain"
)

// MemoryRepository is an in-process event log.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []*domain.Event
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, e *domain.Event) error {
	cp := *e
	cp.Details = copyDetails(e.Details)
	r.mu.Lock()
	r.events = append(r.events, &cp)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) RecentByAccount(ctx context.Context, accountID string, since time.Time, limit int) ([]*domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	var out []*domain.Event
	for _, e := range r.events {
		if e.AccountID == accountID && !e.CreatedAt.Before(since) {
			cp := *e
			cp.Details = copyDetails(e.Details)
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) CountByIPSince(ctx context.Context, eventType string, since time.Time) ([]domain.IPCount, error) {
	r.mu.RLock()
	counts := make(map[string]int)
	for _, e := range r.events {
		if e.EventType == eventType && e.IPAddress != "" && !e.CreatedAt.Before(since) {
			counts[e.IPAddress]++
		}
	}
	r.mu.RUnlock()
	out := make([]domain.IPCount, 0, len(counts))
	for ip, n := range counts {
		out = append(out, domain.IPCount{IPAddress: ip, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IPAddress < out[j].IPAddress
	})
	return out, nil
}

func (r *MemoryRepository) CountByTypesAndSeverity(ctx context.Context, eventTypes []string, severities []domain.Severity, since time.Time) (int, error) {
	types := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}
	sev := make(map[domain.Severity]bool, len(severities))
	for _, s := range severities {
		sev[s] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.events {
		if types[e.EventType] && sev[e.Severity] && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.events {
		if !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	n := 0
	for _, e := range r.events {
		if e.CreatedAt.After(cutoff) {
			kept = append(kept, e)
		} else {
			n++
		}
	}
	r.events = kept
	return n, nil
}

func copyDetails(d domain.Details) domain.Details {
	if d == nil {
		return nil
	}
	out := make(domain.Details, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
