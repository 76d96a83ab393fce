package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stageflow/stageflow/internal/events"
	"github.com/stageflow/stageflow/internal/interceptor"
	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/stage"
)

// LegacyExecutor runs the graph level by level: every stage in a
// topological level executes in parallel, and the next level starts only
// after the whole level finished. It treats conditional stages as
// unconditional, never emits conditional-skip events, and does not support
// guard-retry stages. Kept for compatibility; new code should use the
// Scheduler.
type LegacyExecutor struct {
	graph *StageGraph
	chain *interceptor.Chain
}

// NewLegacyExecutor creates the level-parallel executor. chain may be nil.
func NewLegacyExecutor(graph *StageGraph, chain *interceptor.Chain) (*LegacyExecutor, error) {
	for _, spec := range graph.Specs() {
		if spec.GuardRetry != nil {
			return nil, fmt.Errorf("legacy executor cannot run guard-retry stage %q", spec.Name)
		}
	}
	return &LegacyExecutor{graph: graph, chain: chain}, nil
}

// Execute runs all levels to completion. The first failing level's error
// output stops subsequent levels.
func (e *LegacyExecutor) Execute(ctx context.Context, pc *runctx.PipelineContext) (*Result, error) {
	completed := make(map[string]*stage.Output, e.graph.Len())
	var order []string
	details := make(map[string]StageDetail, e.graph.Len())
	failed := false

	for _, level := range e.graph.Levels() {
		if failed || pc.IsCancelled() {
			break
		}

		type levelResult struct {
			out      *stage.Output
			duration time.Duration
			attempt  int
		}
		results := make([]levelResult, len(level))
		var wg sync.WaitGroup

		for idx, name := range level {
			spec, _ := e.graph.Spec(name)
			inputs := runctx.NewStageInputs(name, spec.DependsOn, pc.Outputs, false)
			sc := runctx.NewStageContext(pc, name, spec.Kind, inputs, 1)

			pc.Emit(ctx, events.StageStarted, map[string]interface{}{
				"stage":     name,
				"timestamp": events.Timestamp(time.Now()),
			})

			wg.Add(1)
			go func(idx int, spec StageSpec, sc *runctx.StageContext) {
				defer wg.Done()
				began := time.Now()
				out, err := e.invoke(ctx, spec, sc)
				if err != nil {
					out = stage.Fail(err.Error(), false)
				}
				if out == nil {
					out = stage.Fail("stage returned no output", false)
				}
				results[idx] = levelResult{out: out, duration: time.Since(began), attempt: sc.Attempt}
			}(idx, spec, sc)
		}
		wg.Wait()

		for idx, name := range level {
			res := results[idx]
			attempt := res.attempt
			if attempt <= 0 {
				attempt = 1
			}
			_ = pc.Outputs.Record(name, attempt, res.out, true)
			pc.Outputs.Finalize(name)
			completed[name] = res.out
			order = append(order, name)
			details[name] = StageDetail{Name: name, Status: res.out.Status, Attempt: attempt, DurationMS: res.duration.Milliseconds()}

			payload := map[string]interface{}{
				"stage":       name,
				"status":      string(res.out.Status),
				"attempt":     attempt,
				"duration_ms": res.duration.Milliseconds(),
				"timestamp":   events.Timestamp(time.Now()),
			}
			if res.out.Status == stage.StatusFail {
				payload["error"] = res.out.Error
				pc.Emit(ctx, events.StageFailed, payload)
				failed = true
			} else {
				pc.Emit(ctx, events.StageCompleted, payload)
			}
		}
	}

	status := "completed"
	if failed {
		status = "failed"
	}

	counts := make(map[string]int)
	detailList := make([]StageDetail, 0, len(order))
	outputs := make(map[string]*stage.Output, len(completed))
	for _, name := range order {
		detail := details[name]
		detailList = append(detailList, detail)
		counts[string(detail.Status)]++
		outputs[name] = completed[name]
	}

	return &Result{Status: status, Outputs: outputs, StageCounts: counts, StageDetails: detailList}, nil
}

func (e *LegacyExecutor) invoke(ctx context.Context, spec StageSpec, sc *runctx.StageContext) (out *stage.Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = stage.Fail(fmt.Sprintf("stage panicked: %v", rec), false)
			err = nil
		}
	}()

	invoke := func() (*stage.Output, error) {
		return spec.Runner.Execute(ctx, sc)
	}
	if e.chain != nil {
		return e.chain.Execute(ctx, sc, invoke)
	}
	return invoke()
}
