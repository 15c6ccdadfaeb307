package cleanup

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(nil)
	noop := func(context.Context) error { return nil }
	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{"valid", Job{Name: "a", Interval: time.Minute, Fn: noop}, false},
		{"duplicate", Job{Name: "a", Interval: time.Minute, Fn: noop}, true},
		{"no name", Job{Interval: time.Minute, Fn: noop}, true},
		{"no fn", Job{Name: "b", Interval: time.Minute}, true},
		{"zero interval", Job{Name: "c", Fn: noop}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Register(tt.job)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Register err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if got := len(s.List()); got != 1 {
		t.Errorf("List len = %d, want 1", got)
	}
}

func TestScheduler_RunNowStatus(t *testing.T) {
	s := NewScheduler(nil)
	fail := true
	_ = s.Register(Job{Name: "flaky", Interval: time.Hour, Fn: func(context.Context) error {
		if fail {
			return errors.New("store down")
		}
		return nil
	}})
	ctx := context.Background()

	info, _ := s.Status("flaky")
	if info.Status != StatusIdle || info.LastRunAt != nil {
		t.Fatalf("initial status = %+v", info)
	}

	if err := s.RunNow(ctx, "flaky"); err == nil || !strings.Contains(err.Error(), "store down") {
		t.Fatalf("RunNow err = %v", err)
	}
	info, _ = s.Status("flaky")
	if info.Status != StatusReject || info.Message != "store down" || info.LastRunAt == nil {
		t.Fatalf("after failure: %+v", info)
	}

	fail = false
	if err := s.RunNow(ctx, "flaky"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	info, _ = s.Status("flaky")
	if info.Status != StatusFulfill || info.Message != "" {
		t.Fatalf("after success: %+v", info)
	}

	if _, err := s.Status("missing"); err == nil {
		t.Error("Status of unknown job should fail")
	}
	if err := s.Run(ctx, "missing"); err == nil {
		t.Error("Run of unknown job should fail")
	}
}

func TestScheduler_SkipsWhileRunning(t *testing.T) {
	s := NewScheduler(nil)
	release := make(chan struct{})
	var runs int32
	_ = s.Register(Job{Name: "slow", Interval: time.Hour, Fn: func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		<-release
		return nil
	}})
	ctx := context.Background()

	if err := s.Run(ctx, "slow"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitFor(t, func() bool {
		info, _ := s.Status("slow")
		return info.Status == StatusRunning
	})
	if err := s.RunNow(ctx, "slow"); err == nil {
		t.Error("second run while in progress should be refused")
	}
	close(release)
	s.Wait()
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestScheduler_PanicRejects(t *testing.T) {
	s := NewScheduler(nil)
	_ = s.Register(Job{Name: "boom", Interval: time.Hour, Fn: func(context.Context) error { panic("bad state") }})
	if err := s.RunNow(context.Background(), "boom"); err == nil {
		t.Fatal("panicking job should report an error")
	}
	info, _ := s.Status("boom")
	if info.Status != StatusReject || !strings.Contains(info.Message, "bad state") {
		t.Errorf("status = %+v", info)
	}
}

func TestScheduler_StartRunsOnInterval(t *testing.T) {
	s := NewScheduler(nil)
	var runs int32
	_ = s.Register(Job{Name: "tick", Interval: 10 * time.Millisecond, Fn: func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	waitFor(t, func() bool { return atomic.LoadInt32(&runs) >= 3 })
	cancel()
	s.Wait()

	after := atomic.LoadInt32(&runs)
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&runs); got != after {
		t.Errorf("job ran after stop: %d -> %d", after, got)
	}
}
