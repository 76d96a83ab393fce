package runctx

import (
	"sync"

	sferrors "github.com/stageflow/stageflow/pkg/errors"

	"github.com/stageflow/stageflow/internal/stage"
)

// ContextBag is a thread-safe write-once map shared by all stages in a run.
// Writing a pre-existing key fails with DataConflictError.
type ContextBag struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewContextBag creates an empty bag.
func NewContextBag() *ContextBag {
	return &ContextBag{values: make(map[string]interface{})}
}

// Set stores a value under key. A second write to the same key fails.
func (b *ContextBag) Set(key string, value interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.values[key]; exists {
		return sferrors.NewDataConflictError(key)
	}
	b.values[key] = value
	return nil
}

// Get returns the value stored under key.
func (b *ContextBag) Get(key string) (interface{}, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, ok
}

// ToMap returns a snapshot copy of the bag contents.
func (b *ContextBag) ToMap() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]interface{}, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

type outputKey struct {
	stageName string
	attempt   int
}

// OutputBag stores stage outputs keyed by (stage name, attempt). Entries are
// append-only: the same key accepts an identical payload (idempotent
// re-record) or an explicit overwrite while the stage is not finalized;
// anything else is an OutputConflictError. Retry and guard runtimes
// overwrite the latest attempt until they finalize the stage.
type OutputBag struct {
	mu        sync.RWMutex
	entries   map[outputKey]*stage.Output
	latest    map[string]int
	finalized map[string]bool
}

// NewOutputBag creates an empty bag.
func NewOutputBag() *OutputBag {
	return &OutputBag{
		entries:   make(map[outputKey]*stage.Output),
		latest:    make(map[string]int),
		finalized: make(map[string]bool),
	}
}

// Record stores the output for (stageName, attempt). With overwrite, an
// existing non-finalized entry for the same key is replaced.
func (b *OutputBag) Record(stageName string, attempt int, out *stage.Output, overwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := outputKey{stageName: stageName, attempt: attempt}
	if existing, exists := b.entries[key]; exists {
		if b.finalized[stageName] {
			return sferrors.NewOutputConflictError(stageName, attempt)
		}
		if !overwrite && stage.PayloadHash(existing.Data) != stage.PayloadHash(out.Data) {
			return sferrors.NewOutputConflictError(stageName, attempt)
		}
	}

	b.entries[key] = out
	if current, ok := b.latest[stageName]; !ok || attempt > current {
		b.latest[stageName] = attempt
	}
	return nil
}

// Finalize marks a stage's output as terminal; further writes to an attempt
// already recorded for the stage conflict.
func (b *OutputBag) Finalize(stageName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalized[stageName] = true
}

// Latest returns the most recent attempt's output for the stage.
func (b *OutputBag) Latest(stageName string) (*stage.Output, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	attempt, ok := b.latest[stageName]
	if !ok {
		return nil, false
	}
	out, ok := b.entries[outputKey{stageName: stageName, attempt: attempt}]
	return out, ok
}

// Attempt returns the output recorded for a specific attempt.
func (b *OutputBag) Attempt(stageName string, attempt int) (*stage.Output, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out, ok := b.entries[outputKey{stageName: stageName, attempt: attempt}]
	return out, ok
}

// Stages returns the names of all stages with at least one recorded output.
func (b *OutputBag) Stages() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.latest))
	for name := range b.latest {
		out = append(out, name)
	}
	return out
}
