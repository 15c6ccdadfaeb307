package cleanup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	sessiondomain "auth-session-core/internal/session/domain"
	"auth-session-core/internal/telemetry"
)

// SessionStore is the maintenance side of the session repository.
type SessionStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (sessiondomain.SweepCounts, error)
	DeactivateIdleRefreshTokens(ctx context.Context, cutoff time.Time) (int, error)
	TerminateIdleSessions(ctx context.Context, cutoff, now time.Time) (int, error)
	TerminateOrphanedSessions(ctx context.Context, now time.Time) (int, error)
	Stats(ctx context.Context, now time.Time) (sessiondomain.Stats, error)
}

// Blacklist purges revoked access tokens whose natural expiry has passed.
type Blacklist interface {
	DeleteExpired(ctx context.Context) (int, error)
	CountActive(ctx context.Context) (int, error)
}

// EventStore is the retention side of the audit repository.
type EventStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// SweeperConfig holds the sweep thresholds.
type SweeperConfig struct {
	InactivityPeriod time.Duration
	AuditRetention   time.Duration
}

// Report is the outcome of one token cleanup run.
type Report struct {
	StartedAt         time.Time
	Duration          time.Duration
	BlacklistPurged   int
	Expired           sessiondomain.SweepCounts
	IdleTokens        int
	IdleSessions      int
	OrphanedSessions  int
	EventsPurged      int
	Stats             sessiondomain.Stats
	ActiveBlacklisted int
	EventsLast24h     int
}

// Sweeper removes expired and idle credentials and old audit events.
type Sweeper struct {
	sessions  SessionStore
	blacklist Blacklist
	events    EventStore
	cfg       SweeperConfig
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewSweeper returns a Sweeper. blacklist and events may be nil to skip their steps.
func NewSweeper(sessions SessionStore, blacklist Blacklist, events EventStore, cfg SweeperConfig, metrics *telemetry.Metrics, logger *zap.Logger) *Sweeper {
	if cfg.InactivityPeriod <= 0 {
		cfg.InactivityPeriod = 30 * 24 * time.Hour
	}
	if cfg.AuditRetention <= 0 {
		cfg.AuditRetention = 90 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		sessions:  sessions,
		blacklist: blacklist,
		events:    events,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunTokenCleanup runs every sweep step. Each step is its own store transaction; a
// failing step is logged and the remaining steps still run. The returned error
// combines every step failure.
func (s *Sweeper) RunTokenCleanup(ctx context.Context) (*Report, error) {
	started := time.Now()
	now := s.now()
	rep := &Report{StartedAt: now}
	var errs error

	step := func(name string, fn func() (int, error)) {
		n, err := fn()
		if err != nil {
			s.logger.Error("cleanup: step failed", zap.String("step", name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		if n > 0 {
			s.logger.Info("cleanup: step removed rows", zap.String("step", name), zap.Int("count", n))
		}
		s.metrics.CleanupRemoved(ctx, name, n)
	}

	if s.blacklist != nil {
		step("blacklist_expired", func() (int, error) {
			n, err := s.blacklist.DeleteExpired(ctx)
			rep.BlacklistPurged = n
			return n, err
		})
	}
	step("expired", func() (int, error) {
		c, err := s.sessions.DeleteExpired(ctx, now)
		rep.Expired = c
		return c.RefreshTokens + c.Sessions, err
	})
	cutoff := now.Add(-s.cfg.InactivityPeriod)
	step("idle_tokens", func() (int, error) {
		n, err := s.sessions.DeactivateIdleRefreshTokens(ctx, cutoff)
		rep.IdleTokens = n
		return n, err
	})
	step("idle_sessions", func() (int, error) {
		n, err := s.sessions.TerminateIdleSessions(ctx, cutoff, now)
		rep.IdleSessions = n
		return n, err
	})
	step("orphaned_sessions", func() (int, error) {
		n, err := s.sessions.TerminateOrphanedSessions(ctx, now)
		rep.OrphanedSessions = n
		return n, err
	})
	if s.events != nil {
		step("audit_retention", func() (int, error) {
			n, err := s.events.DeleteOlderThan(ctx, now.Add(-s.cfg.AuditRetention))
			rep.EventsPurged = n
			return n, err
		})
	}

	stats, err := s.sessions.Stats(ctx, now)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("stats: %w", err))
	}
	rep.Stats = stats
	if s.blacklist != nil {
		if n, err := s.blacklist.CountActive(ctx); err == nil {
			rep.ActiveBlacklisted = n
		} else {
			errs = multierr.Append(errs, fmt.Errorf("blacklist stats: %w", err))
		}
	}
	if s.events != nil {
		if n, err := s.events.CountSince(ctx, now.Add(-24*time.Hour)); err == nil {
			rep.EventsLast24h = n
		} else {
			errs = multierr.Append(errs, fmt.Errorf("event stats: %w", err))
		}
	}
	rep.Duration = time.Since(started)

	s.logger.Info("cleanup: token cleanup finished",
		zap.Int("expired_tokens", rep.Expired.RefreshTokens),
		zap.Int("expired_sessions", rep.Expired.Sessions),
		zap.Int("idle_tokens", rep.IdleTokens),
		zap.Int("idle_sessions", rep.IdleSessions),
		zap.Int("orphaned_sessions", rep.OrphanedSessions),
		zap.Int("blacklist_purged", rep.BlacklistPurged),
		zap.Int("events_purged", rep.EventsPurged),
		zap.Int("active_sessions", rep.Stats.ActiveSessions),
		zap.Int("failed_steps", len(multierr.Errors(errs))),
	)
	return rep, errs
}

// Job wraps RunTokenCleanup for the scheduler.
func (s *Sweeper) Job(interval time.Duration) Job {
	return Job{
		Name:        "token_cleanup",
		Description: "Delete expired credentials, retire idle sessions, and purge old audit events",
		Interval:    interval,
		Fn: func(ctx context.Context) error {
			_, err := s.RunTokenCleanup(ctx)
			return err
		},
	}
}
