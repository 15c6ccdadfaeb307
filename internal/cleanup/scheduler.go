// Package cleanup runs the periodic maintenance jobs: token and session sweeping,
// audit retention, and the suspicious-activity scan.
package cleanup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobStatus is the last known state of a job.
type JobStatus string

const (
	StatusIdle    JobStatus = "idle"
	StatusRunning JobStatus = "running"
	StatusFulfill JobStatus = "fulfill"
	StatusReject  JobStatus = "reject"
)

// Job is a task run every Interval.
type Job struct {
	Name        string
	Description string
	Interval    time.Duration
	Fn          func(ctx context.Context) error
}

type jobState struct {
	Job
	mu        sync.Mutex
	status    JobStatus
	message   string
	lastRunAt *time.Time
	nextRunAt time.Time
}

// JobInfo is a snapshot of one registered job.
type JobInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      JobStatus  `json:"status"`
	Message     string     `json:"message,omitempty"`
	NextRunAt   time.Time  `json:"next_run_at"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
}

// Scheduler runs each registered job in its own goroutine. A run that is due while
// the previous run of the same job is still in progress is skipped.
type Scheduler struct {
	logger *zap.Logger
	mu     sync.RWMutex
	jobs   map[string]*jobState
	wg     sync.WaitGroup
}

// NewScheduler returns an empty Scheduler. logger may be nil.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger, jobs: make(map[string]*jobState)}
}

// Register adds a job. Jobs registered after Start are not scheduled.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Fn == nil {
		return fmt.Errorf("cleanup: job needs a name and a function")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("cleanup: job %q needs a positive interval", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("cleanup: job %q already registered", job.Name)
	}
	s.jobs[job.Name] = &jobState{
		Job:       job,
		status:    StatusIdle,
		nextRunAt: time.Now().Add(job.Interval),
	}
	return nil
}

// Start launches every registered job. The loops exit when ctx is cancelled;
// Wait blocks until they and any in-flight runs have returned.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, js := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, js)
	}
	s.logger.Info("cleanup: scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Wait blocks until every job loop and manual run has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, js *jobState) {
	defer s.wg.Done()
	for {
		js.mu.Lock()
		wait := time.Until(js.nextRunAt)
		js.mu.Unlock()
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.execute(ctx, js)
			js.mu.Lock()
			js.nextRunAt = time.Now().Add(js.Interval)
			js.mu.Unlock()
		}
	}
}

// execute runs js once unless it is already running. It reports whether it ran.
func (s *Scheduler) execute(ctx context.Context, js *jobState) bool {
	js.mu.Lock()
	if js.status == StatusRunning {
		js.mu.Unlock()
		s.logger.Warn("cleanup: previous run still in progress, skipping", zap.String("job", js.Name))
		return false
	}
	js.status = StatusRunning
	js.mu.Unlock()

	started := time.Now()
	err := s.call(ctx, js)
	elapsed := time.Since(started)

	js.mu.Lock()
	js.lastRunAt = &started
	if err != nil {
		js.status = StatusReject
		js.message = err.Error()
	} else {
		js.status = StatusFulfill
		js.message = ""
	}
	js.mu.Unlock()

	if err != nil {
		s.logger.Error("cleanup: job failed", zap.String("job", js.Name), zap.Duration("elapsed", elapsed), zap.Error(err))
	} else {
		s.logger.Info("cleanup: job done", zap.String("job", js.Name), zap.Duration("elapsed", elapsed))
	}
	return true
}

// call runs the job function, turning a panic into a rejected run.
func (s *Scheduler) call(ctx context.Context, js *jobState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return js.Fn(ctx)
}

// Run triggers a job by name outside its schedule. It does not wait for the run.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	js, err := s.lookup(name)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, js)
	}()
	return nil
}

// RunNow runs a job synchronously and returns its error. It returns an error without
// running when the job is already in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	js, err := s.lookup(name)
	if err != nil {
		return err
	}
	if !s.execute(ctx, js) {
		return fmt.Errorf("cleanup: job %q is already running", name)
	}
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.status == StatusReject {
		return fmt.Errorf("cleanup: job %q: %s", name, js.message)
	}
	return nil
}

// Status returns the current state of a job.
func (s *Scheduler) Status(name string) (JobInfo, error) {
	js, err := s.lookup(name)
	if err != nil {
		return JobInfo{}, err
	}
	return js.info(), nil
}

// List returns every job, sorted by name.
func (s *Scheduler) List() []JobInfo {
	s.mu.RLock()
	items := make([]JobInfo, 0, len(s.jobs))
	for _, js := range s.jobs {
		items = append(items, js.info())
	}
	s.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

func (s *Scheduler) lookup(name string) (*jobState, error) {
	s.mu.RLock()
	js, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("cleanup: job %q not found", name)
	}
	return js, nil
}

func (js *jobState) info() JobInfo {
	js.mu.Lock()
	defer js.mu.Unlock()
	return JobInfo{
		Name:        js.Name,
		Description: js.Description,
		Status:      js.status,
		Message:     js.message,
		NextRunAt:   js.nextRunAt,
		LastRunAt:   js.lastRunAt,
	}
}
