package cancel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const minCallbackTimeout = 10 * time.Millisecond

// CleanupFunc releases a resource acquired during a run.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// CleanupFailure records a cleanup callback that returned an error or
// panicked during RunAll.
type CleanupFailure struct {
	Name string
	Err  error
}

// CleanupRegistry holds cleanup callbacks and runs them in LIFO order.
type CleanupRegistry struct {
	mu      sync.Mutex
	entries []cleanupEntry
}

// NewCleanupRegistry creates an empty registry.
func NewCleanupRegistry() *CleanupRegistry {
	return &CleanupRegistry{}
}

// Register appends a callback to the stack. Name is optional and used only
// in failure reports.
func (r *CleanupRegistry) Register(fn CleanupFunc, name string) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, cleanupEntry{name: name, fn: fn})
}

// Len returns the number of registered callbacks.
func (r *CleanupRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RunAll executes callbacks in reverse registration order and clears the
// registry. The total timeout is re-split across the remaining callbacks at
// each step so fast early callbacks leave their unused budget to later ones.
// Failures are collected, never re-raised.
func (r *CleanupRegistry) RunAll(totalTimeout time.Duration) []CleanupFailure {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	var failures []CleanupFailure
	deadline := time.Now().Add(totalTimeout)

	for i := len(entries) - 1; i >= 0; i-- {
		remaining := i + 1
		budget := time.Until(deadline) / time.Duration(remaining)
		if budget < minCallbackTimeout {
			budget = minCallbackTimeout
		}

		entry := entries[i]
		if err := runWithTimeout(entry.fn, budget); err != nil {
			failures = append(failures, CleanupFailure{Name: entry.name, Err: err})
		}
	}

	return failures
}

func runWithTimeout(fn CleanupFunc, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("cleanup panicked: %v", rec)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
