package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"auth-session-core/internal/audit/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.Event
	emitErr error
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func waitForCount(t *testing.T, m *mockEventEmitter, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d events, got %d", want, m.count())
}

func TestEmitAsync_NilEmitterOrEvent(t *testing.T) {
	EmitAsync(nil, zap.NewNop(), &domain.Event{EventType: "x"})

	em := &mockEventEmitter{}
	EmitAsync(em, nil, nil)
	time.Sleep(10 * time.Millisecond)
	if em.count() != 0 {
		t.Errorf("expected 0 events, got %d", em.count())
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	em := &mockEventEmitter{}
	EmitAsync(em, zap.NewNop(), &domain.Event{AccountID: "a1", EventType: domain.EventLoginSuccess})
	waitForCount(t, em, 1)
	if em.events[0].AccountID != "a1" {
		t.Errorf("account_id = %q, want a1", em.events[0].AccountID)
	}
}

func TestEmitAsync_ErrorIsLoggedNotReturned(t *testing.T) {
	em := &mockEventEmitter{emitErr: context.DeadlineExceeded}
	EmitAsync(em, nil, &domain.Event{EventType: "x"})
	waitForCount(t, em, 1)
}

func TestEmitAsync_Concurrent(t *testing.T) {
	em := &mockEventEmitter{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(em, zap.NewNop(), &domain.Event{EventType: "x"})
		}()
	}
	wg.Wait()
	waitForCount(t, em, 10)
}
