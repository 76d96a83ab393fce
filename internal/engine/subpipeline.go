package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stageflow/stageflow/internal/events"
	"github.com/stageflow/stageflow/internal/runctx"
)

const defaultMaxDepth = 5

// ChildRunTracker holds parent-to-children run links for traversal and
// cleanup. Safe for concurrent use.
type ChildRunTracker struct {
	mu       sync.RWMutex
	children map[string][]string
}

// NewChildRunTracker creates an empty tracker.
func NewChildRunTracker() *ChildRunTracker {
	return &ChildRunTracker{children: make(map[string][]string)}
}

// Add links a child run to its parent.
func (t *ChildRunTracker) Add(parentRunID, childRunID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.children[parentRunID] = append(t.children[parentRunID], childRunID)
}

// Children returns the child run IDs recorded for the parent.
func (t *ChildRunTracker) Children(parentRunID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.children[parentRunID]...)
}

// Remove drops the parent's links.
func (t *ChildRunTracker) Remove(parentRunID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.children, parentRunID)
}

// Spawner runs child pipelines within a parent context, enforcing nesting
// depth and cascading cancellation from parent to child.
type Spawner struct {
	maxDepth int
	tracker  *ChildRunTracker
}

// NewSpawner creates a spawner. maxDepth <= 0 selects the default of 5.
func NewSpawner(maxDepth int, tracker *ChildRunTracker) *Spawner {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	if tracker == nil {
		tracker = NewChildRunTracker()
	}
	return &Spawner{maxDepth: maxDepth, tracker: tracker}
}

// Tracker returns the spawner's child-run tracker.
func (s *Spawner) Tracker() *ChildRunTracker { return s.tracker }

// Spawn executes the child graph against a derived context and returns the
// child's result. The parent observes lifecycle through
// pipeline.spawned_child / child_completed / child_failed events.
func (s *Spawner) Spawn(ctx context.Context, parent *runctx.PipelineContext, scheduler *Scheduler, snapshot *runctx.Snapshot) (*Result, error) {
	if parent.Depth()+1 >= s.maxDepth {
		return nil, fmt.Errorf("sub-pipeline depth limit %d exceeded", s.maxDepth)
	}

	child := parent.Child(snapshot)
	childRunID := ""
	if snapshot != nil {
		childRunID = snapshot.Identity().PipelineRunID
	}
	parentRunID := ""
	if parent.Snapshot() != nil {
		parentRunID = parent.Snapshot().Identity().PipelineRunID
	}
	s.tracker.Add(parentRunID, childRunID)
	defer s.tracker.Remove(parentRunID)

	parent.Emit(ctx, events.PipelineSpawnedChild, map[string]interface{}{
		"child_run_id": events.StringOrNil(childRunID),
		"depth":        child.Depth(),
		"timestamp":    events.Timestamp(time.Now()),
	})

	result, err := scheduler.Execute(ctx, child)

	switch {
	case err != nil:
		parent.Emit(ctx, events.PipelineChildFailed, map[string]interface{}{
			"child_run_id": events.StringOrNil(childRunID),
			"error":        err.Error(),
			"timestamp":    events.Timestamp(time.Now()),
		})
	case result != nil && result.Status == "failed":
		parent.Emit(ctx, events.PipelineChildFailed, map[string]interface{}{
			"child_run_id": events.StringOrNil(childRunID),
			"status":       result.Status,
			"timestamp":    events.Timestamp(time.Now()),
		})
	default:
		parent.Emit(ctx, events.PipelineChildCompleted, map[string]interface{}{
			"child_run_id": events.StringOrNil(childRunID),
			"status":       result.Status,
			"timestamp":    events.Timestamp(time.Now()),
		})
	}

	return result, err
}
