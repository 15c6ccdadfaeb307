package cleanup

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"auth-session-core/internal/audit"
	auditdomain "auth-session-core/internal/audit/domain"
	"auth-session-core/internal/notify"
	"auth-session-core/internal/telemetry"
)

// Alert kinds published to notify.TopicSecurityAlerts.
const (
	AlertFailedLoginBurst   = "failed_login_burst"
	AlertTokenCompromise    = "token_compromise_signals"
	defaultMonitorWindow    = time.Hour
	defaultMonitorThreshold = 5
)

var compromiseEventTypes = []string{
	auditdomain.EventDeviceFingerprintMismatch,
	auditdomain.EventInvalidRefreshToken,
}

// EventCounter is the query side of the audit repository used by the monitor.
type EventCounter interface {
	CountByIPSince(ctx context.Context, eventType string, since time.Time) ([]auditdomain.IPCount, error)
	CountByTypesAndSeverity(ctx context.Context, eventTypes []string, severities []auditdomain.Severity, since time.Time) (int, error)
}

// MonitorConfig sets the scan window and the failed-login threshold fed to the policy.
type MonitorConfig struct {
	Window    time.Duration
	Threshold int
}

// Findings is the outcome of one scan.
type Findings struct {
	ScannedAt         time.Time
	FlaggedIPs        []auditdomain.IPCount
	CompromiseSignals int
}

type alert struct {
	Kind      string    `json:"kind"`
	IPAddress string    `json:"ip_address,omitempty"`
	Count     int       `json:"count"`
	Window    string    `json:"window"`
	At        time.Time `json:"at"`
}

// Monitor flags addresses with bursts of failed logins and reports high-severity
// token compromise signals. It only reports; it never locks accounts.
type Monitor struct {
	events    EventCounter
	policy    *Policy
	audit     audit.EventLogger
	publisher notify.Publisher
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	cfg       MonitorConfig
	now       func() time.Time
}

// NewMonitor returns a Monitor. A nil policy falls back to count >= threshold; auditLog,
// publisher, metrics, and logger may be nil.
func NewMonitor(events EventCounter, policy *Policy, auditLog audit.EventLogger, publisher notify.Publisher, metrics *telemetry.Metrics, logger *zap.Logger, cfg MonitorConfig) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = defaultMonitorWindow
	}
	if cfg.Threshold < 1 {
		cfg.Threshold = defaultMonitorThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		events:    events,
		policy:    policy,
		audit:     auditLog,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Scan examines the events of the last window.
func (m *Monitor) Scan(ctx context.Context) (*Findings, error) {
	now := m.now()
	since := now.Add(-m.cfg.Window)
	out := &Findings{ScannedAt: now}

	counts, err := m.events.CountByIPSince(ctx, auditdomain.EventFailedLogin, since)
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		if c.IPAddress == "" || !m.flag(ctx, c) {
			continue
		}
		out.FlaggedIPs = append(out.FlaggedIPs, c)
		m.logger.Warn("cleanup: suspicious login activity",
			zap.String("ip_address", c.IPAddress),
			zap.Int("failed_logins", c.Count),
			zap.Duration("window", m.cfg.Window),
		)
		m.metrics.SuspiciousFlag(ctx, AlertFailedLoginBurst)
		m.alert(ctx, alert{Kind: AlertFailedLoginBurst, IPAddress: c.IPAddress, Count: c.Count, Window: m.cfg.Window.String(), At: now})
		if m.audit != nil {
			m.audit.LogEvent(ctx, &auditdomain.Event{
				EventType: auditdomain.EventSuspiciousActivity,
				Category:  auditdomain.CategorySuspicious,
				Severity:  auditdomain.SeverityHigh,
				IPAddress: c.IPAddress,
				Details: auditdomain.Details{
					"kind":          AlertFailedLoginBurst,
					"failed_logins": strconv.Itoa(c.Count),
					"window":        m.cfg.Window.String(),
				},
				Success: true,
			})
		}
	}

	n, err := m.events.CountByTypesAndSeverity(ctx, compromiseEventTypes,
		[]auditdomain.Severity{auditdomain.SeverityHigh, auditdomain.SeverityCritical}, since)
	if err != nil {
		return out, err
	}
	out.CompromiseSignals = n
	if n > 0 {
		m.logger.Warn("cleanup: token compromise signals", zap.Int("events", n), zap.Duration("window", m.cfg.Window))
		m.metrics.SuspiciousFlag(ctx, AlertTokenCompromise)
		m.alert(ctx, alert{Kind: AlertTokenCompromise, Count: n, Window: m.cfg.Window.String(), At: now})
	}
	return out, nil
}

// flag asks the policy about c. Evaluation errors fall back to the plain threshold.
func (m *Monitor) flag(ctx context.Context, c auditdomain.IPCount) bool {
	if m.policy != nil {
		ok, err := m.policy.FlagIP(ctx, IPInput{
			IPAddress:     c.IPAddress,
			Count:         c.Count,
			Threshold:     m.cfg.Threshold,
			WindowMinutes: int(m.cfg.Window / time.Minute),
		})
		if err == nil {
			return ok
		}
		m.logger.Warn("cleanup: policy evaluation failed, using threshold", zap.Error(err))
	}
	return c.Count >= m.cfg.Threshold
}

func (m *Monitor) alert(ctx context.Context, a alert) {
	if err := notify.PublishJSON(ctx, m.publisher, notify.TopicSecurityAlerts, a); err != nil {
		m.logger.Warn("cleanup: publish alert failed", zap.String("kind", a.Kind), zap.Error(err))
	}
}

// Job wraps Scan for the scheduler.
func (m *Monitor) Job(interval time.Duration) Job {
	return Job{
		Name:        "suspicious_activity_scan",
		Description: "Flag addresses with failed-login bursts and report token compromise signals",
		Interval:    interval,
		Fn: func(ctx context.Context) error {
			_, err := m.Scan(ctx)
			return err
		},
	}
}
