// Package telemetry mirrors security events to an observability backend.
package telemetry

import (
	"context"

	"auth-session-core/internal/audit/domain"
)

// EventEmitter emits security events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}
