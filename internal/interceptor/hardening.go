package interceptor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stageflow/stageflow/internal/delta"
	"github.com/stageflow/stageflow/internal/events"
	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/stage"
)

// ImmutabilityInterceptor asserts that stage execution leaves the run
// snapshot untouched. Mutation is a programmer error surfaced as a runtime
// error for the stage.
type ImmutabilityInterceptor struct{}

// NewImmutabilityInterceptor creates the interceptor.
func NewImmutabilityInterceptor() *ImmutabilityInterceptor {
	return &ImmutabilityInterceptor{}
}

// Priority places the check innermost so it brackets only the stage itself.
func (*ImmutabilityInterceptor) Priority() int { return 90 }

// Around serializes the snapshot before and after execution and compares.
func (*ImmutabilityInterceptor) Around(ctx context.Context, sc *runctx.StageContext, next Next) (*stage.Output, error) {
	snap := sc.Pipeline.Snapshot()
	if snap == nil {
		return next()
	}

	before, err := json.Marshal(snap.ToMap())
	if err != nil {
		return next()
	}

	out, execErr := next()

	after, err := json.Marshal(snap.ToMap())
	if err == nil && string(before) != string(after) {
		return nil, fmt.Errorf("stage %q mutated the immutable snapshot", sc.Name)
	}
	return out, execErr
}

// ContextSizeInterceptor samples the serialized context bag around stage
// execution and emits context.size_warning when growth exceeds the
// threshold. The warning payload carries the number of keys in the shallow
// delta (changed_keys), not the keys or the bag contents.
type ContextSizeInterceptor struct {
	thresholdBytes int
}

// NewContextSizeInterceptor creates the interceptor with a growth threshold
// in bytes.
func NewContextSizeInterceptor(thresholdBytes int) *ContextSizeInterceptor {
	if thresholdBytes <= 0 {
		thresholdBytes = 64 * 1024
	}
	return &ContextSizeInterceptor{thresholdBytes: thresholdBytes}
}

// Priority runs the sampler just outside the immutability check.
func (*ContextSizeInterceptor) Priority() int { return 80 }

// Around measures bag growth across the stage invocation.
func (c *ContextSizeInterceptor) Around(ctx context.Context, sc *runctx.StageContext, next Next) (*stage.Output, error) {
	beforeMap := sc.Pipeline.Bag.ToMap()
	beforeSize := serializedSize(beforeMap)

	out, err := next()

	afterMap := sc.Pipeline.Bag.ToMap()
	afterSize := serializedSize(afterMap)

	if growth := afterSize - beforeSize; growth > c.thresholdBytes {
		changed := delta.Compute(beforeMap, afterMap)
		keys := make([]string, 0, len(changed))
		for key := range changed {
			keys = append(keys, key)
		}
		sc.Emit(ctx, events.ContextSizeWarning, map[string]interface{}{
			"growth_bytes":    growth,
			"size_bytes":      afterSize,
			"threshold_bytes": c.thresholdBytes,
			"changed_keys":    len(keys),
		})
	}
	return out, err
}

func serializedSize(m map[string]interface{}) int {
	raw, err := json.Marshal(m)
	if err != nil {
		return 0
	}
	return len(raw)
}
