package tool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/internal/events"
	"github.com/stageflow/stageflow/internal/runctx"
	sferrors "github.com/stageflow/stageflow/pkg/errors"
)

func toolContext(sink events.Sink, mode string) *runctx.PipelineContext {
	snap := runctx.NewSnapshot(runctx.Identity{PipelineRunID: "run-1"}).WithExecutionMode(mode)
	return runctx.NewPipelineContext(snap, runctx.WithSink(sink))
}

func resolvedCall(def *Definition, args map[string]interface{}) *ResolvedCall {
	return &ResolvedCall{ActionType: def.ActionType, Args: args, Definition: def}
}

func TestExecuteEmitsLifecycleInOrder(t *testing.T) {
	t.Parallel()

	capture := events.NewCaptureSink()
	pc := toolContext(capture, "chat")
	executor := NewExecutor()

	def := echoDefinition("echo")
	result, err := executor.Execute(context.Background(), pc, resolvedCall(def, map[string]interface{}{"k": "v"}))
	require.NoError(t, err)
	require.Equal(t, "v", result.Data["k"])
	require.NotEmpty(t, result.ActionID)

	require.Equal(t, []string{events.ToolInvoked, events.ToolStarted, events.ToolCompleted}, capture.Types())

	// Payloads are enriched with the run identity.
	require.Equal(t, "run-1", capture.Events()[0].Data["pipeline_run_id"])
	require.Equal(t, "chat", capture.Events()[0].Data["execution_mode"])
}

func TestExecuteDeniesDisallowedBehavior(t *testing.T) {
	t.Parallel()

	capture := events.NewCaptureSink()
	pc := toolContext(capture, "chat")
	executor := NewExecutor()

	def := echoDefinition("deploy")
	def.AllowedBehaviors = []string{"ops"}

	_, err := executor.Execute(context.Background(), pc, resolvedCall(def, nil))

	var denied *sferrors.ToolDeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "behavior_not_allowed", denied.Reason)

	require.Equal(t, []string{events.ToolInvoked, events.ToolDenied}, capture.Types())
	require.Equal(t, "behavior_not_allowed", capture.Events()[1].Data["reason"])
}

func TestExecuteFailedHandlerEmitsToolFailed(t *testing.T) {
	t.Parallel()

	capture := events.NewCaptureSink()
	pc := toolContext(capture, "chat")
	executor := NewExecutor()

	def := &Definition{
		ActionType: "broken",
		Handler: func(context.Context, map[string]interface{}) (*Result, error) {
			return nil, fmt.Errorf("downstream unavailable")
		},
	}

	_, err := executor.Execute(context.Background(), pc, resolvedCall(def, nil))

	var execErr *sferrors.ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, []string{events.ToolInvoked, events.ToolStarted, events.ToolFailed}, capture.Types())
}

func TestApprovalApprovedPath(t *testing.T) {
	t.Parallel()

	capture := events.NewCaptureSink()
	pc := toolContext(capture, "chat")
	executor := NewExecutor(WithApproval(AutoApprover{Approve: true}))

	def := echoDefinition("gated")
	def.RequiresApproval = true

	_, err := executor.Execute(context.Background(), pc, resolvedCall(def, nil))
	require.NoError(t, err)

	require.Equal(t, []string{
		events.ToolInvoked,
		events.ApprovalRequested,
		events.ApprovalDecided,
		events.ToolStarted,
		events.ToolCompleted,
	}, capture.Types())
}

func TestApprovalDeniedCarriesNoRequestID(t *testing.T) {
	t.Parallel()

	pc := toolContext(events.NoOpSink{}, "chat")
	executor := NewExecutor(WithApproval(AutoApprover{Approve: false}))

	def := echoDefinition("gated")
	def.RequiresApproval = true

	_, err := executor.Execute(context.Background(), pc, resolvedCall(def, nil))

	var denied *sferrors.ToolApprovalDeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "gated", denied.ActionType)
}

func TestApprovalTimeout(t *testing.T) {
	t.Parallel()

	capture := events.NewCaptureSink()
	pc := toolContext(capture, "chat")

	// An approver that never decides.
	executor := NewExecutor(WithApproval(ChannelApprover{Decisions: make(chan bool)}))

	def := echoDefinition("gated")
	def.RequiresApproval = true
	def.ApprovalTimeout = 100 * time.Millisecond

	_, err := executor.Execute(context.Background(), pc, resolvedCall(def, nil))

	var timeoutErr *sferrors.ToolApprovalTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.NotEmpty(t, timeoutErr.RequestID)
	require.Equal(t, 100*time.Millisecond, timeoutErr.Timeout)

	require.Equal(t, []string{events.ToolInvoked, events.ApprovalRequested, events.ToolDenied}, capture.Types())
	require.Equal(t, "approval_timeout", capture.Events()[2].Data["reason"])
}

func TestUndoableResultStoredAndUndone(t *testing.T) {
	t.Parallel()

	capture := events.NewCaptureSink()
	pc := toolContext(capture, "chat")

	registry := NewRegistry()
	undone := false
	def := &Definition{
		ActionType: "create_file",
		Undoable:   true,
		Handler: func(context.Context, map[string]interface{}) (*Result, error) {
			return &Result{
				Data:         map[string]interface{}{"path": "/tmp/x"},
				UndoMetadata: map[string]interface{}{"path": "/tmp/x"},
			}, nil
		},
		UndoHandler: func(_ context.Context, metadata map[string]interface{}) error {
			undone = true
			require.Equal(t, "/tmp/x", metadata["path"])
			return nil
		},
	}
	require.NoError(t, registry.Register(def))

	executor := NewExecutor()
	result, err := executor.Execute(context.Background(), pc, resolvedCall(def, nil))
	require.NoError(t, err)
	require.Equal(t, 1, executor.UndoStore().Len())

	ok, err := executor.Undo(context.Background(), pc, registry, result.ActionID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, undone)
	require.Zero(t, executor.UndoStore().Len())

	undoneEvents := capture.OfType(events.ToolUndone)
	require.Len(t, undoneEvents, 1)

	// A second undo finds no metadata.
	ok, err = executor.Undo(context.Background(), pc, registry, result.ActionID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUndoFailureRaisesToolUndoError(t *testing.T) {
	t.Parallel()

	capture := events.NewCaptureSink()
	pc := toolContext(capture, "chat")

	registry := NewRegistry()
	def := &Definition{
		ActionType: "create_file",
		Undoable:   true,
		Handler: func(context.Context, map[string]interface{}) (*Result, error) {
			return &Result{UndoMetadata: map[string]interface{}{"path": "/tmp/x"}}, nil
		},
		UndoHandler: func(context.Context, map[string]interface{}) error {
			return fmt.Errorf("file already gone")
		},
	}
	require.NoError(t, registry.Register(def))

	executor := NewExecutor()
	result, err := executor.Execute(context.Background(), pc, resolvedCall(def, nil))
	require.NoError(t, err)

	_, err = executor.Undo(context.Background(), pc, registry, result.ActionID)
	var undoErr *sferrors.ToolUndoError
	require.ErrorAs(t, err, &undoErr)
	require.Len(t, capture.OfType(events.ToolUndoFailed), 1)
}

func TestUndoWithoutHandlerReturnsFalse(t *testing.T) {
	t.Parallel()

	pc := toolContext(events.NoOpSink{}, "chat")
	registry := NewRegistry()
	def := echoDefinition("plain")
	def.Undoable = true
	require.NoError(t, registry.Register(def))

	executor := NewExecutor()
	executor.UndoStore().Put("action-1", "plain", map[string]interface{}{"k": "v"})

	ok, err := executor.Undo(context.Background(), pc, registry, "action-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUndoStoreTTLExpiry(t *testing.T) {
	t.Parallel()

	store := NewUndoStore(time.Minute)
	current := time.Now()
	store.now = func() time.Time { return current }

	store.Put("a", "t", map[string]interface{}{"k": "v"})
	_, _, ok := store.Get("a")
	require.True(t, ok)

	current = current.Add(2 * time.Minute)
	_, _, ok = store.Get("a")
	require.False(t, ok)
	require.Zero(t, store.Len())
}
