package runctx

import (
	"context"
	"sync"

	"github.com/stageflow/stageflow/internal/events"
)

// DictAdapter is a degenerate execution context backed by a flat key/value
// map. Hosts that have no pipeline run use it to satisfy components that
// only need bag reads and best-effort event emission. Emission never
// panics.
type DictAdapter struct {
	mu     sync.RWMutex
	values map[string]interface{}
	sink   events.Sink
}

// NewDictAdapter creates an adapter seeded from the given map.
func NewDictAdapter(values map[string]interface{}, sink events.Sink) *DictAdapter {
	copied := make(map[string]interface{}, len(values))
	for k, v := range values {
		copied[k] = v
	}
	if sink == nil {
		sink = events.NoOpSink{}
	}
	return &DictAdapter{values: copied, sink: sink}
}

// Get returns the value stored under key.
func (d *DictAdapter) Get(key string) (interface{}, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[key]
	return v, ok
}

// Set stores a value; unlike ContextBag, overwriting is allowed.
func (d *DictAdapter) Set(key string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[key] = value
}

// ToMap returns a snapshot copy of the adapter contents.
func (d *DictAdapter) ToMap() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]interface{}, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// Emit forwards the event to the sink, swallowing panics.
func (d *DictAdapter) Emit(ctx context.Context, eventType string, data map[string]interface{}) {
	defer func() { _ = recover() }()
	d.sink.Emit(ctx, eventType, data)
}
