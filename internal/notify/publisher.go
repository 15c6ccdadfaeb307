// Package notify publishes security notifications to a message bus (Redis pub/sub or Kafka).
package notify

import (
	"context"
	"encoding/json"

	"go.uber.org/multierr"
)

// Topics used for security notifications.
const (
	TopicSecurityEvents = "security.events"
	TopicSecurityAlerts = "security.alerts"
	TopicSessionCreated = "session.created"
	TopicSessionEvicted = "session.evicted"
)

// Publisher sends a payload to a topic. Callers use it best-effort: log and ignore errors.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Close releases resources. Safe to call if already closed.
	Close() error
}

// PublishJSON marshals v and publishes it to topic. A nil publisher is a no-op.
func PublishJSON(ctx context.Context, p Publisher, topic string, v any) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Publish(ctx, topic, payload)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close() error                                  { return nil }

// Fanout publishes every message to each of its publishers. A failure on one does not
// stop delivery to the rest; the errors are combined.
type Fanout []Publisher

// NewFanout drops nil publishers. It returns Nop for none and the publisher itself for one.
func NewFanout(ps ...Publisher) Publisher {
	var out Fanout
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return Nop{}
	case 1:
		return out[0]
	}
	return out
}

func (f Fanout) Publish(ctx context.Context, topic string, payload []byte) error {
	var err error
	for _, p := range f {
		err = multierr.Append(err, p.Publish(ctx, topic, payload))
	}
	return err
}

func (f Fanout) Close() error {
	var err error
	for _, p := range f {
		err = multierr.Append(err, p.Close())
	}
	return err
}
