package events

import (
	"context"
	"sort"

	"github.com/stageflow/stageflow/internal/ports"
)

// LoggingSink renders each event as a structured log entry. Payload keys are
// written in sorted order for stable output.
type LoggingSink struct {
	logger ports.Logger
}

// NewLoggingSink creates a sink writing through the provided logger.
func NewLoggingSink(logger ports.Logger) *LoggingSink {
	return &LoggingSink{logger: logger}
}

// Emit logs the event.
func (s *LoggingSink) Emit(ctx context.Context, eventType string, data map[string]interface{}) {
	if s == nil || s.logger == nil {
		return
	}

	fields := []interface{}{"event_type", eventType}
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fields = append(fields, key, data[key])
	}

	s.logger.Info(ctx, "pipeline event", fields...)
}

// TryEmit logs the event; logging never blocks, so delivery always succeeds.
func (s *LoggingSink) TryEmit(ctx context.Context, eventType string, data map[string]interface{}) bool {
	s.Emit(ctx, eventType, data)
	return true
}
