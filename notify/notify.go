// Package notify delivers "something happened" signals to the outside world.
// Delivery is best effort: callers log failures and move on.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"expertflow/logging"
)

// Event is one outbound notification.
type Event struct {
	ID         string
	Topic      string
	Payload    json.RawMessage
	OccurredAt time.Time
}

// Sink accepts events for delivery.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// LogSink writes events to the structured log. It is the default sink in
// development so password reset links remain reachable.
type LogSink struct {
	log logging.Logger
}

func NewLogSink(log logging.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(ctx context.Context, ev Event) error {
	s.log.Info(ctx, "notification", "event_id", ev.ID, "topic", ev.Topic, "payload", string(ev.Payload))
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
