package tool

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	sferrors "github.com/stageflow/stageflow/pkg/errors"

	"github.com/stageflow/stageflow/internal/events"
	"github.com/stageflow/stageflow/internal/ports"
	"github.com/stageflow/stageflow/internal/runctx"
)

const defaultApprovalTimeout = 30 * time.Second

// ExecutionResult is returned for a successfully executed call.
type ExecutionResult struct {
	ActionID string
	Data     map[string]interface{}
}

// Executor runs resolved tool calls under the behavior and approval gates,
// emitting the tool lifecycle events through the pipeline context's sink.
type Executor struct {
	approval ApprovalService
	undo     *UndoStore
	logger   ports.Logger
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithApproval installs the approval service consulted for gated tools.
func WithApproval(service ApprovalService) ExecutorOption {
	return func(e *Executor) { e.approval = service }
}

// WithUndoStore installs the store for undo metadata.
func WithUndoStore(store *UndoStore) ExecutorOption {
	return func(e *Executor) { e.undo = store }
}

// WithLogger installs a logger for non-event diagnostics.
func WithLogger(logger ports.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor creates an executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{undo: NewUndoStore(0)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UndoStore returns the executor's undo store.
func (e *Executor) UndoStore() *UndoStore { return e.undo }

// Execute runs one resolved call. Events are emitted strictly in the order:
// tool.invoked, (tool.denied | approval.requested, (approval.decided |
// tool.denied)), tool.started, (tool.completed | tool.failed). When the
// approver rejects the call, or fails with an error other than a timeout,
// no event follows approval.requested and the error is returned.
func (e *Executor) Execute(ctx context.Context, pc *runctx.PipelineContext, call *ResolvedCall) (*ExecutionResult, error) {
	def := call.Definition
	actionID := uuid.NewString()

	pc.Emit(ctx, events.ToolInvoked, map[string]interface{}{
		"action_type": def.ActionType,
		"action_id":   actionID,
		"timestamp":   events.Timestamp(time.Now()),
	})

	if !def.AllowsBehavior(pc.ExecutionMode()) {
		pc.Emit(ctx, events.ToolDenied, map[string]interface{}{
			"action_type": def.ActionType,
			"action_id":   actionID,
			"reason":      "behavior_not_allowed",
		})
		return nil, sferrors.NewToolDeniedError(def.ActionType, "behavior_not_allowed")
	}

	if def.RequiresApproval {
		if err := e.awaitApproval(ctx, pc, def, call, actionID); err != nil {
			return nil, err
		}
	}

	pc.Emit(ctx, events.ToolStarted, map[string]interface{}{
		"action_type": def.ActionType,
		"action_id":   actionID,
		"timestamp":   events.Timestamp(time.Now()),
	})

	result, err := def.Handler(ctx, call.Args)
	if err != nil {
		pc.Emit(ctx, events.ToolFailed, map[string]interface{}{
			"action_type": def.ActionType,
			"action_id":   actionID,
			"error":       err.Error(),
		})
		return nil, sferrors.NewToolExecutionError(def.ActionType, err)
	}

	pc.Emit(ctx, events.ToolCompleted, map[string]interface{}{
		"action_type": def.ActionType,
		"action_id":   actionID,
		"timestamp":   events.Timestamp(time.Now()),
	})

	if def.Undoable && result != nil && result.UndoMetadata != nil {
		e.undo.Put(actionID, def.ActionType, result.UndoMetadata)
	}

	out := &ExecutionResult{ActionID: actionID}
	if result != nil {
		out.Data = result.Data
	}
	return out, nil
}

func (e *Executor) awaitApproval(ctx context.Context, pc *runctx.PipelineContext, def *Definition, call *ResolvedCall, actionID string) error {
	requestID := uuid.NewString()
	timeout := def.ApprovalTimeout
	if timeout <= 0 {
		timeout = defaultApprovalTimeout
	}

	pc.Emit(ctx, events.ApprovalRequested, map[string]interface{}{
		"action_type":  def.ActionType,
		"action_id":    actionID,
		"approval_request_id": requestID,
		"timeout_ms":   timeout.Milliseconds(),
		"timestamp":    events.Timestamp(time.Now()),
	})

	if e.approval == nil {
		pc.Emit(ctx, events.ToolDenied, map[string]interface{}{
			"action_type": def.ActionType,
			"action_id":   actionID,
			"reason":      "no_approval_service",
		})
		return sferrors.NewToolDeniedError(def.ActionType, "no_approval_service")
	}

	approvalCtx, cancelFn := context.WithTimeout(ctx, timeout)
	defer cancelFn()

	approved, err := e.approval.Decide(approvalCtx, ApprovalRequest{
		RequestID:  requestID,
		ActionType: def.ActionType,
		Args:       call.Args,
	})

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			pc.Emit(ctx, events.ToolDenied, map[string]interface{}{
				"action_type": def.ActionType,
				"action_id":   actionID,
				"reason":      "approval_timeout",
			})
			return sferrors.NewToolApprovalTimeoutError(def.ActionType, requestID, timeout)
		}
		return sferrors.NewToolExecutionError(def.ActionType, err)
	}

	if !approved {
		return sferrors.NewToolApprovalDeniedError(def.ActionType)
	}

	pc.Emit(ctx, events.ApprovalDecided, map[string]interface{}{
		"action_type":  def.ActionType,
		"action_id":    actionID,
		"approval_request_id": requestID,
		"approved":     true,
	})
	return nil
}

// Undo reverses a completed action. It returns false with no error when no
// metadata or no undo handler exists for the action.
func (e *Executor) Undo(ctx context.Context, pc *runctx.PipelineContext, registry *Registry, actionID string) (bool, error) {
	actionType, metadata, ok := e.undo.Get(actionID)
	if !ok {
		return false, nil
	}

	def, err := registry.Resolve(actionType)
	if err != nil || def.UndoHandler == nil {
		return false, nil
	}

	if err := def.UndoHandler(ctx, metadata); err != nil {
		pc.Emit(ctx, events.ToolUndoFailed, map[string]interface{}{
			"action_type": actionType,
			"action_id":   actionID,
			"error":       err.Error(),
		})
		return false, sferrors.NewToolUndoError(actionID, err)
	}

	pc.Emit(ctx, events.ToolUndone, map[string]interface{}{
		"action_type": actionType,
		"action_id":   actionID,
		"timestamp":   events.Timestamp(time.Now()),
	})
	e.undo.Remove(actionID)
	return true, nil
}
