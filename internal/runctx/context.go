package runctx

import (
	"context"

	"github.com/stageflow/stageflow/internal/cancel"
	"github.com/stageflow/stageflow/internal/events"
	"github.com/stageflow/stageflow/internal/stage"
)

// Runner is the stage contract: a single computation receiving its declared
// inputs through the stage context and returning an output. Runners must be
// pure with respect to the snapshot and mutate shared state only through the
// bag APIs.
type Runner interface {
	Execute(ctx context.Context, sc *StageContext) (*stage.Output, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, sc *StageContext) (*stage.Output, error)

// Execute invokes the function.
func (f RunnerFunc) Execute(ctx context.Context, sc *StageContext) (*stage.Output, error) {
	return f(ctx, sc)
}

// PipelineContext is the mutable per-run state shared by all stages. The
// snapshot it references is immutable; everything else is written through
// fine-grained locks in the bags.
type PipelineContext struct {
	snapshot      *Snapshot
	topology      string
	executionMode string

	Bag     *ContextBag
	Outputs *OutputBag

	sink    events.Sink
	token   *cancel.Token
	cleanup *cancel.CleanupRegistry

	parent *PipelineContext
	depth  int
}

// PipelineContextOption customizes a new pipeline context.
type PipelineContextOption func(*PipelineContext)

// WithSink installs the event sink for the run.
func WithSink(sink events.Sink) PipelineContextOption {
	return func(pc *PipelineContext) { pc.sink = sink }
}

// WithToken installs an externally owned cancellation token.
func WithToken(token *cancel.Token) PipelineContextOption {
	return func(pc *PipelineContext) { pc.token = token }
}

// NewPipelineContext creates the per-run state for executing a snapshot.
func NewPipelineContext(snapshot *Snapshot, opts ...PipelineContextOption) *PipelineContext {
	pc := &PipelineContext{
		snapshot: snapshot,
		Bag:      NewContextBag(),
		Outputs:  NewOutputBag(),
		cleanup:  cancel.NewCleanupRegistry(),
	}
	if snapshot != nil {
		pc.topology = snapshot.Topology()
		pc.executionMode = snapshot.ExecutionMode()
	}
	for _, opt := range opts {
		opt(pc)
	}
	if pc.sink == nil {
		pc.sink = events.NoOpSink{}
	}
	if pc.token == nil {
		pc.token = cancel.NewToken(nil)
	}
	return pc
}

// Snapshot returns the immutable run snapshot.
func (pc *PipelineContext) Snapshot() *Snapshot { return pc.snapshot }

// Topology returns the topology name for the run.
func (pc *PipelineContext) Topology() string { return pc.topology }

// ExecutionMode returns the execution mode for the run.
func (pc *PipelineContext) ExecutionMode() string { return pc.executionMode }

// Sink returns the run's event sink.
func (pc *PipelineContext) Sink() events.Sink { return pc.sink }

// Token returns the run's cancellation token.
func (pc *PipelineContext) Token() *cancel.Token { return pc.token }

// Cleanup returns the run's cleanup registry.
func (pc *PipelineContext) Cleanup() *cancel.CleanupRegistry { return pc.cleanup }

// Parent returns the parent context when this run is a sub-pipeline.
func (pc *PipelineContext) Parent() *PipelineContext { return pc.parent }

// Depth returns the sub-pipeline nesting depth, zero for a root run.
func (pc *PipelineContext) Depth() int { return pc.depth }

// IsCancelled reports whether the run has been canceled.
func (pc *PipelineContext) IsCancelled() bool { return pc.token.IsCancelled() }

// Cancel cancels the run with the given reason.
func (pc *PipelineContext) Cancel(reason string) { pc.token.Cancel(reason) }

// Child derives a sub-pipeline context sharing the sink. The child gets its
// own bags and token; canceling the parent cascades into the child.
func (pc *PipelineContext) Child(snapshot *Snapshot) *PipelineContext {
	child := NewPipelineContext(snapshot, WithSink(pc.sink))
	child.parent = pc
	child.depth = pc.depth + 1
	pc.token.OnCancel(func(reason string) {
		child.token.Cancel(reason)
	})
	return child
}

// Emit sends an event through the run's sink, enriched with the run
// identity and execution mode.
func (pc *PipelineContext) Emit(ctx context.Context, eventType string, data map[string]interface{}) {
	pc.sink.Emit(ctx, eventType, pc.enrich(data))
}

// TryEmit sends an event without blocking.
func (pc *PipelineContext) TryEmit(ctx context.Context, eventType string, data map[string]interface{}) bool {
	return pc.sink.TryEmit(ctx, eventType, pc.enrich(data))
}

func (pc *PipelineContext) enrich(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data)+3)
	for k, v := range data {
		out[k] = v
	}
	if pc.snapshot != nil {
		id := pc.snapshot.Identity()
		out["pipeline_run_id"] = events.StringOrNil(id.PipelineRunID)
		out["request_id"] = events.StringOrNil(id.RequestID)
	} else {
		out["pipeline_run_id"] = nil
		out["request_id"] = nil
	}
	if pc.executionMode != "" {
		out["execution_mode"] = pc.executionMode
	}
	return out
}

// StageContext is the per-stage view over the pipeline context, exposing the
// declared-dependency inputs and the running stage's name.
type StageContext struct {
	Pipeline *PipelineContext
	Name     string
	Kind     stage.Kind
	Inputs   *StageInputs
	Attempt  int
}

// NewStageContext builds the view a runner receives.
func NewStageContext(pc *PipelineContext, name string, kind stage.Kind, inputs *StageInputs, attempt int) *StageContext {
	return &StageContext{Pipeline: pc, Name: name, Kind: kind, Inputs: inputs, Attempt: attempt}
}

// IsCancelled reports whether the run has been canceled; in-flight stages
// observing this should return a cancel output promptly.
func (sc *StageContext) IsCancelled() bool { return sc.Pipeline.IsCancelled() }

// Emit sends an event through the run's sink tagged with the stage name.
func (sc *StageContext) Emit(ctx context.Context, eventType string, data map[string]interface{}) {
	payload := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["stage"] = sc.Name
	sc.Pipeline.Emit(ctx, eventType, payload)
}
