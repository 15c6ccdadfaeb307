package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"auth-session-core/internal/audit/domain"
	"auth-session-core/internal/telemetry"
)

// RecordEmitter is the subset of otellog.Logger used by the event emitter.
type RecordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewEventEmitterWithLogger(provider.Logger("authcore.security"))
}

// NewEventEmitterWithLogger returns an EventEmitter writing to logger.
func NewEventEmitterWithLogger(logger RecordEmitter) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Event) error { return nil }

type otelEmitter struct {
	logger RecordEmitter
}

// Emit converts the security event to an OTel log record and emits it.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetSeverity(logSeverity(event.Severity))
	rec.SetSeverityText(string(event.Severity))
	if len(event.Details) > 0 {
		body, err := json.Marshal(event.Details)
		if err != nil {
			return err
		}
		rec.SetBody(otellog.BytesValue(body))
	}
	addString(&rec, "event_id", event.ID)
	addString(&rec, "event_type", event.EventType)
	addString(&rec, "category", string(event.Category))
	addString(&rec, "account_id", event.AccountID)
	addString(&rec, "session_id", event.SessionID)
	addString(&rec, "ip_address", event.IPAddress)
	addString(&rec, "device_fingerprint", event.DeviceFingerprint)
	addString(&rec, "error_message", event.ErrorMessage)
	rec.AddAttributes(otellog.Bool("success", event.Success))
	e.logger.Emit(ctx, rec)
	return nil
}

func addString(rec *otellog.Record, key, value string) {
	if value != "" {
		rec.AddAttributes(otellog.String(key, value))
	}
}

func logSeverity(s domain.Severity) otellog.Severity {
	switch s {
	case domain.SeverityLow:
		return otellog.SeverityInfo
	case domain.SeverityMedium:
		return otellog.SeverityWarn
	case domain.SeverityHigh:
		return otellog.SeverityError
	case domain.SeverityCritical:
		return otellog.SeverityFatal
	}
	return otellog.SeverityUndefined
}
