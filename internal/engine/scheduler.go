package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	sferrors "github.com/stageflow/stageflow/pkg/errors"

	"github.com/stageflow/stageflow/internal/events"
	"github.com/stageflow/stageflow/internal/interceptor"
	"github.com/stageflow/stageflow/internal/ports"
	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/stage"
)

// FailureMode selects how the scheduler reacts to a failed stage.
type FailureMode int

const (
	// FailFast aborts remaining ready stages on the first failure;
	// in-flight stages are allowed to complete.
	FailFast FailureMode = iota
	// ContinueOnFailure skips successors of failed stages and keeps
	// unrelated branches running.
	ContinueOnFailure
	// BestEffort attempts every reachable stage regardless of failures.
	BestEffort
)

// SkipReasonDependencyFailed marks stages skipped because a dependency
// failed under ContinueOnFailure.
const SkipReasonDependencyFailed = "dependency_failed"

const defaultCancelGrace = 5 * time.Second

// Options configures a Scheduler.
type Options struct {
	// PipelineName overrides the graph name in the pipeline.wide summary.
	PipelineName string
	Chain        *interceptor.Chain
	FailureMode  FailureMode
	// StrictInputs makes undeclared-dependency reads fail.
	StrictInputs bool
	// StageTimeout bounds each stage invocation; zero disables.
	StageTimeout time.Duration
	// MaxConcurrent caps concurrently running stages; zero means unbounded.
	MaxConcurrent int64
	// CancelGrace bounds the wait for in-flight stages after cancellation.
	CancelGrace time.Duration
	Logger      ports.Logger
}

// StageDetail summarizes one stage's terminal state for the wide event.
type StageDetail struct {
	Name       string
	Status     stage.Status
	Attempt    int
	DurationMS int64
}

// Result is the run summary returned by Execute.
type Result struct {
	Status       string
	Outputs      map[string]*stage.Output
	StageCounts  map[string]int
	StageDetails []StageDetail
	CancelReason string
}

// Scheduler drives a StageGraph to completion with maximum safe
// parallelism: every stage whose dependencies have terminal outputs runs
// concurrently, subject to the concurrency cap.
type Scheduler struct {
	graph *StageGraph
	opts  Options
	sem   *semaphore.Weighted
}

// NewScheduler creates a scheduler for the compiled graph.
func NewScheduler(graph *StageGraph, opts Options) *Scheduler {
	s := &Scheduler{graph: graph, opts: opts}
	if opts.MaxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	if s.opts.CancelGrace <= 0 {
		s.opts.CancelGrace = defaultCancelGrace
	}
	if s.opts.Logger == nil {
		s.opts.Logger = noopLogger{}
	}
	return s
}

type completion struct {
	name     string
	out      *stage.Output
	attempt  int
	duration time.Duration
}

type runState struct {
	pc          *runctx.PipelineContext
	completed   map[string]*stage.Output
	details     map[string]StageDetail
	order       []string
	inFlight    map[string]struct{}
	launched    map[string]struct{}
	ready       []string
	completionCh chan completion
	canceled    bool
	cancelReason string
	stopLaunch  bool
	start       time.Time
}

// Execute runs the graph against the pipeline context. It returns a result
// for every terminal path; the only error value is PipelineCancelledError,
// which also covers cancellation of the caller's ctx.
func (s *Scheduler) Execute(ctx context.Context, pc *runctx.PipelineContext) (*Result, error) {
	st := &runState{
		pc:           pc,
		completed:    make(map[string]*stage.Output, s.graph.Len()),
		details:      make(map[string]StageDetail, s.graph.Len()),
		inFlight:     make(map[string]struct{}),
		launched:     make(map[string]struct{}),
		completionCh: make(chan completion, s.graph.Len()),
		start:        time.Now(),
	}

	// Initial ready set: stages with no dependencies, declaration order.
	for _, spec := range s.graph.Specs() {
		if len(spec.DependsOn) == 0 {
			st.ready = append(st.ready, spec.Name)
		}
	}

	for {
		s.drainReady(ctx, st)

		if st.canceled {
			s.awaitInFlight(ctx, st)
			break
		}

		if len(st.inFlight) == 0 {
			if len(st.ready) > 0 {
				continue
			}
			break
		}

		select {
		case comp := <-st.completionCh:
			delete(st.inFlight, comp.name)
			s.finish(ctx, st, comp)
		case <-pc.Token().Done():
			s.noteCancelled(ctx, st, pc.Token().Reason())
		case <-ctx.Done():
			s.noteCancelled(ctx, st, ctx.Err().Error())
		}
	}

	if st.canceled {
		pc.Cleanup().RunAll(s.opts.CancelGrace)
		result := s.summarize(st, "cancelled")
		return result, sferrors.NewPipelineCancelledError(st.cancelReason)
	}

	status := "completed"
	for _, out := range st.completed {
		if out.Status == stage.StatusFail {
			status = "failed"
			break
		}
	}
	result := s.summarize(st, status)
	s.emitPipelineWide(ctx, st, result)
	return result, nil
}

// drainReady launches or synchronously resolves every ready stage in
// declaration order.
func (s *Scheduler) drainReady(ctx context.Context, st *runState) {
	s.sortReady(st)
	for i := 0; i < len(st.ready); i++ {
		name := st.ready[i]
		if _, done := st.completed[name]; done {
			continue
		}
		if _, running := st.launched[name]; running {
			continue
		}
		if st.canceled || st.stopLaunch {
			continue
		}

		spec, _ := s.graph.Spec(name)

		if reason, skip := s.skipReason(st, spec); skip {
			st.launched[name] = struct{}{}
			s.finish(ctx, st, completion{name: name, out: stage.Skip(reason), attempt: 1})
			continue
		}

		st.launched[name] = struct{}{}
		st.inFlight[name] = struct{}{}
		s.launch(ctx, st, spec)
	}
	st.ready = st.ready[:0]
}

// skipReason decides whether the stage must be skipped instead of launched:
// failed or skipped dependencies under ContinueOnFailure, then the
// conditional skip_reason protocol.
func (s *Scheduler) skipReason(st *runState, spec StageSpec) (string, bool) {
	if s.opts.FailureMode == ContinueOnFailure {
		for _, dep := range spec.DependsOn {
			out := st.completed[dep]
			if out == nil {
				continue
			}
			if out.Status == stage.StatusFail {
				return SkipReasonDependencyFailed, true
			}
			if out.Status == stage.StatusSkip && out.Reason == SkipReasonDependencyFailed {
				return SkipReasonDependencyFailed, true
			}
		}
	}

	if spec.Conditional {
		inputs := runctx.NewStageInputs(spec.Name, spec.DependsOn, st.pc.Outputs, false)
		if reason, ok := inputs.Merged()["skip_reason"].(string); ok && reason != "" {
			return reason, true
		}
	}
	return "", false
}

func (s *Scheduler) launch(ctx context.Context, st *runState, spec StageSpec) {
	inputs := runctx.NewStageInputs(spec.Name, spec.DependsOn, st.pc.Outputs, s.opts.StrictInputs)
	sc := runctx.NewStageContext(st.pc, spec.Name, spec.Kind, inputs, 1)

	st.pc.Emit(ctx, events.StageStarted, map[string]interface{}{
		"stage":     spec.Name,
		"kind":      string(spec.Kind),
		"timestamp": events.Timestamp(time.Now()),
	})
	s.opts.Logger.Debug(ctx, "stage launched", "stage", spec.Name)

	go func() {
		began := time.Now()

		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				st.completionCh <- completion{name: spec.Name, out: stage.Fail(err.Error(), false), attempt: 1, duration: time.Since(began)}
				return
			}
			defer s.sem.Release(1)
		}

		out, err := s.invoke(ctx, st, spec, sc)
		if err != nil {
			out = stage.Fail(err.Error(), false)
		}
		if out == nil {
			out = stage.Fail("stage returned no output", false)
		}
		st.completionCh <- completion{name: spec.Name, out: out, attempt: sc.Attempt, duration: time.Since(began)}
	}()
}

// invoke runs the stage through the interceptor chain, with panic
// containment and the optional per-stage timeout. Guard-retry stages run
// the guard loop as the innermost invocation.
func (s *Scheduler) invoke(ctx context.Context, st *runState, spec StageSpec, sc *runctx.StageContext) (out *stage.Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = stage.Fail(fmt.Sprintf("stage panicked: %v", rec), false)
			err = nil
		}
	}()

	stageCtx := ctx
	var cancelFn context.CancelFunc
	if s.opts.StageTimeout > 0 {
		stageCtx, cancelFn = context.WithTimeout(ctx, s.opts.StageTimeout)
		defer cancelFn()
	}

	core := func() (*stage.Output, error) {
		if spec.GuardRetry != nil {
			return s.runGuard(stageCtx, st, spec, sc)
		}
		return spec.Runner.Execute(stageCtx, sc)
	}

	if s.opts.Chain != nil {
		out, err = s.opts.Chain.Execute(stageCtx, sc, core)
	} else {
		out, err = core()
	}

	if stageCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return stage.Fail("timeout", true), nil
	}
	return out, err
}

// finish records a terminal output, emits its lifecycle events, and
// promotes newly-ready successors.
func (s *Scheduler) finish(ctx context.Context, st *runState, comp completion) {
	attempt := comp.attempt
	if attempt <= 0 {
		attempt = 1
	}

	if err := st.pc.Outputs.Record(comp.name, attempt, comp.out, true); err != nil {
		s.opts.Logger.Error(ctx, "output record conflict", "stage", comp.name, "error", err)
	}
	st.pc.Outputs.Finalize(comp.name)

	st.completed[comp.name] = comp.out
	st.order = append(st.order, comp.name)
	st.details[comp.name] = StageDetail{
		Name:       comp.name,
		Status:     comp.out.Status,
		Attempt:    attempt,
		DurationMS: comp.duration.Milliseconds(),
	}

	s.emitStageWide(ctx, st, comp, attempt)
	s.emitStageTerminal(ctx, st, comp, attempt)

	switch comp.out.Status {
	case stage.StatusCancel:
		if !st.canceled {
			s.noteCancelled(ctx, st, comp.out.Reason)
		}
		return
	case stage.StatusFail:
		if s.opts.FailureMode == FailFast {
			st.stopLaunch = true
			return
		}
	}

	if st.canceled {
		return
	}

	// Promote successors whose dependencies all have terminal outputs.
	for _, succ := range s.graph.Successors(comp.name) {
		if _, done := st.completed[succ]; done {
			continue
		}
		if _, running := st.launched[succ]; running {
			continue
		}
		spec, _ := s.graph.Spec(succ)
		allDone := true
		for _, dep := range spec.DependsOn {
			if _, done := st.completed[dep]; !done {
				allDone = false
				break
			}
		}
		if allDone {
			st.ready = append(st.ready, succ)
		}
	}
}

func (s *Scheduler) sortReady(st *runState) {
	sort.SliceStable(st.ready, func(i, j int) bool {
		return s.graph.index[st.ready[i]] < s.graph.index[st.ready[j]]
	})
}

func (s *Scheduler) noteCancelled(ctx context.Context, st *runState, reason string) {
	if st.canceled {
		return
	}
	st.canceled = true
	st.cancelReason = reason
	st.ready = st.ready[:0]
	st.pc.Cancel(reason)
	st.pc.Emit(ctx, events.PipelineCancelled, map[string]interface{}{
		"reason":    reason,
		"timestamp": events.Timestamp(time.Now()),
	})
	s.opts.Logger.Info(ctx, "pipeline cancelled", "reason", reason)
}

// awaitInFlight drains running stages after cancellation, bounded by the
// grace window.
func (s *Scheduler) awaitInFlight(ctx context.Context, st *runState) {
	grace := time.NewTimer(s.opts.CancelGrace)
	defer grace.Stop()

	for len(st.inFlight) > 0 {
		select {
		case comp := <-st.completionCh:
			delete(st.inFlight, comp.name)
			s.finish(ctx, st, comp)
		case <-grace.C:
			for name := range st.inFlight {
				s.opts.Logger.Warn(ctx, "stage did not stop within cancel grace", "stage", name)
				delete(st.inFlight, name)
			}
		}
	}
}

func (s *Scheduler) emitStageTerminal(ctx context.Context, st *runState, comp completion, attempt int) {
	payload := map[string]interface{}{
		"stage":       comp.name,
		"status":      string(comp.out.Status),
		"attempt":     attempt,
		"duration_ms": comp.duration.Milliseconds(),
		"timestamp":   events.Timestamp(time.Now()),
	}

	switch comp.out.Status {
	case stage.StatusFail:
		payload["error"] = comp.out.Error
		payload["retryable"] = comp.out.Retryable
		st.pc.Emit(ctx, events.StageFailed, payload)
	case stage.StatusSkip:
		payload["reason"] = comp.out.Reason
		st.pc.Emit(ctx, events.StageSkipped, payload)
	default:
		keys := comp.out.DataKeys()
		sort.Strings(keys)
		payload["data_keys"] = keys
		st.pc.Emit(ctx, events.StageCompleted, payload)
	}
}

func (s *Scheduler) emitStageWide(ctx context.Context, st *runState, comp completion, attempt int) {
	keys := comp.out.DataKeys()
	sort.Strings(keys)
	st.pc.Emit(ctx, events.StageWide, map[string]interface{}{
		"stage":          comp.name,
		"status":         string(comp.out.Status),
		"attempt":        attempt,
		"duration_ms":    comp.duration.Milliseconds(),
		"data_keys":      keys,
		"artifact_count": len(comp.out.Artifacts),
		"event_count":    len(comp.out.Events),
		"timestamp":      events.Timestamp(time.Now()),
	})
}

func (s *Scheduler) pipelineName(st *runState) string {
	if s.opts.PipelineName != "" {
		return s.opts.PipelineName
	}
	if topology := st.pc.Topology(); topology != "" {
		return topology
	}
	if s.graph.Name() != "" {
		return s.graph.Name()
	}
	return "pipeline"
}

func (s *Scheduler) summarize(st *runState, status string) *Result {
	counts := make(map[string]int)
	details := make([]StageDetail, 0, len(st.order))
	outputs := make(map[string]*stage.Output, len(st.completed))

	for _, name := range st.order {
		detail := st.details[name]
		details = append(details, detail)
		counts[string(detail.Status)]++
		outputs[name] = st.completed[name]
	}

	return &Result{
		Status:       status,
		Outputs:      outputs,
		StageCounts:  counts,
		StageDetails: details,
		CancelReason: st.cancelReason,
	}
}

func (s *Scheduler) emitPipelineWide(ctx context.Context, st *runState, result *Result) {
	counts := make(map[string]interface{}, len(result.StageCounts))
	for status, n := range result.StageCounts {
		counts[status] = n
	}

	details := make([]interface{}, 0, len(result.StageDetails))
	for _, d := range result.StageDetails {
		details = append(details, map[string]interface{}{
			"stage":       d.Name,
			"status":      string(d.Status),
			"attempt":     d.Attempt,
			"duration_ms": d.DurationMS,
		})
	}

	st.pc.Emit(ctx, events.PipelineWide, map[string]interface{}{
		"pipeline_name": s.pipelineName(st),
		"status":        result.Status,
		"stage_counts":  counts,
		"stage_details": details,
		"duration_ms":   time.Since(st.start).Milliseconds(),
		"timestamp":     events.Timestamp(time.Now()),
	})
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...interface{}) {}
func (noopLogger) Info(context.Context, string, ...interface{})  {}
func (noopLogger) Warn(context.Context, string, ...interface{})  {}
func (noopLogger) Error(context.Context, string, ...interface{}) {}
func (n noopLogger) With(...interface{}) ports.Logger            { return n }
