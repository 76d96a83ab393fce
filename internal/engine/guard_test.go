package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/internal/events"
	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/stage"
)

func guardGraph(t *testing.T, runner runctx.Runner, policy stage.GuardRetryPolicy) *StageGraph {
	t.Helper()
	graph, err := NewBuilder("guarded").
		Stage("guard", runner, nil, WithGuardRetry(policy)).
		Build()
	require.NoError(t, err)
	return graph
}

func TestGuardRetriesUntilOK(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	attempts := 0
	runner := runnerFn(func(context.Context, *runctx.StageContext) (*stage.Output, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return stage.Fail("not ready", true), nil
		}
		return stage.OK(map[string]interface{}{"attempt": attempts}), nil
	})

	capture := events.NewCaptureSink()
	pc := newRunContext(capture)
	graph := guardGraph(t, runner, stage.GuardRetryPolicy{MaxAttempts: 5, StagnationWindow: 4})

	result, err := NewScheduler(graph, Options{}).Execute(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, "completed", result.Status)
	require.Equal(t, 3, attempts)

	require.Len(t, capture.OfType(events.GuardRetryAttempt), 3)
	require.Len(t, capture.OfType(events.GuardRetryScheduled), 2)
	require.Empty(t, capture.OfType(events.GuardRetryExhausted))

	out, _ := pc.Outputs.Latest("guard")
	require.Equal(t, stage.StatusOK, out.Status)
	require.Equal(t, 3, out.Data["attempt"])
}

func TestGuardStopsOnStagnation(t *testing.T) {
	t.Parallel()

	runner := runnerFn(func(context.Context, *runctx.StageContext) (*stage.Output, error) {
		// Identical failing payload every attempt.
		return stage.Fail("stuck", true), nil
	})

	capture := events.NewCaptureSink()
	pc := newRunContext(capture)
	graph := guardGraph(t, runner, stage.GuardRetryPolicy{MaxAttempts: 10, StagnationWindow: 2})

	result, err := NewScheduler(graph, Options{}).Execute(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, "failed", result.Status)

	exhausted := capture.OfType(events.GuardRetryExhausted)
	require.Len(t, exhausted, 1)
	require.Equal(t, "stagnation", exhausted[0].Data["reason"])

	// Attempts: 1 fresh + 2 stagnant before the window closes.
	require.Len(t, capture.OfType(events.GuardRetryAttempt), 3)
}

func TestGuardExhaustsMaxAttempts(t *testing.T) {
	t.Parallel()

	capture := events.NewCaptureSink()
	pc := newRunContext(capture)
	graph := guardGraph(t, makeChangingFail(), stage.GuardRetryPolicy{MaxAttempts: 3, StagnationWindow: 5})

	result, err := NewScheduler(graph, Options{}).Execute(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, "failed", result.Status)

	exhausted := capture.OfType(events.GuardRetryExhausted)
	require.Len(t, exhausted, 1)
	require.Equal(t, "max_attempts", exhausted[0].Data["reason"])
	require.Len(t, capture.OfType(events.GuardRetryAttempt), 3)
}

// makeChangingFail returns a runner whose failing output payload changes on
// every attempt.
func makeChangingFail() runctx.Runner {
	var mu sync.Mutex
	attempts := 0
	return runnerFn(func(context.Context, *runctx.StageContext) (*stage.Output, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		out := &stage.Output{Status: stage.StatusFail, Error: "still failing", Retryable: true,
			Data: map[string]interface{}{"n": attempts}}
		return out, nil
	})
}

func TestGuardRecoveredEventAfterStagnation(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	attempts := 0
	runner := runnerFn(func(context.Context, *runctx.StageContext) (*stage.Output, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		switch {
		case attempts <= 2:
			// Two identical failures: stagnation.
			return &stage.Output{Status: stage.StatusFail, Error: "same", Retryable: true,
				Data: map[string]interface{}{"state": "frozen"}}, nil
		default:
			return stage.OK(map[string]interface{}{"state": "moved"}), nil
		}
	})

	capture := events.NewCaptureSink()
	pc := newRunContext(capture)
	graph := guardGraph(t, runner, stage.GuardRetryPolicy{MaxAttempts: 5, StagnationWindow: 3})

	result, err := NewScheduler(graph, Options{}).Execute(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, "completed", result.Status)
	require.Len(t, capture.OfType(events.GuardRetryRecovered), 1)
}

func TestGuardTimeout(t *testing.T) {
	t.Parallel()

	changing := makeChangingFail()
	runner := runnerFn(func(ctx context.Context, sc *runctx.StageContext) (*stage.Output, error) {
		time.Sleep(30 * time.Millisecond)
		return changing.Execute(ctx, sc)
	})

	pc := newRunContext(events.NoOpSink{})
	graph := guardGraph(t, runner, stage.GuardRetryPolicy{MaxAttempts: 100, StagnationWindow: 50, Timeout: 50 * time.Millisecond})

	result, err := NewScheduler(graph, Options{}).Execute(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, "failed", result.Status)

	out, _ := pc.Outputs.Latest("guard")
	require.Equal(t, "guard timeout", out.Error)
}
