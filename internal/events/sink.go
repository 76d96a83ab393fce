package events

import (
	"context"
	"time"
)

// Sink receives structured lifecycle events from the scheduler, interceptors
// and the tool executor. Emit may block (for example on a bounded queue);
// TryEmit never blocks and reports whether the event was accepted.
// Implementations must never panic into callers.
type Sink interface {
	Emit(ctx context.Context, eventType string, data map[string]interface{})
	TryEmit(ctx context.Context, eventType string, data map[string]interface{}) bool
}

// NoOpSink discards every event.
type NoOpSink struct{}

// Emit discards the event.
func (NoOpSink) Emit(context.Context, string, map[string]interface{}) {}

// TryEmit discards the event and reports success.
func (NoOpSink) TryEmit(context.Context, string, map[string]interface{}) bool { return true }

// Timestamp renders a wall-clock instant in the canonical wire format:
// RFC3339 with sub-second precision, always UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// StringOrNil normalizes an identifier for event payloads: empty strings
// serialize as nil, everything else as the string itself.
func StringOrNil(id string) interface{} {
	if id == "" {
		return nil
	}
	return id
}
