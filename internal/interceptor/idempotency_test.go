package interceptor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/internal/events"
	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/stage"
)

func TestIdempotencyReturnsCachedOutput(t *testing.T) {
	t.Parallel()

	store := NewMemoryIdempotencyStore()
	i := NewIdempotencyInterceptor(store)
	sc := newStageContext(events.NoOpSink{})

	invocations := 0
	build := func() (*stage.Output, error) {
		invocations++
		return stage.OK(map[string]interface{}{"v": invocations}), nil
	}

	first, err := i.Around(context.Background(), sc, build)
	require.NoError(t, err)
	second, err := i.Around(context.Background(), sc, build)
	require.NoError(t, err)

	require.Equal(t, 1, invocations)
	require.Same(t, first, second)
}

func TestIdempotencySkipsNonWorkStages(t *testing.T) {
	t.Parallel()

	store := NewMemoryIdempotencyStore()
	i := NewIdempotencyInterceptor(store)

	pc := runctx.NewPipelineContext(runctx.NewSnapshot(runctx.Identity{}))
	sc := runctx.NewStageContext(pc, "route", stage.KindRouter, nil, 1)

	invocations := 0
	for n := 0; n < 2; n++ {
		_, err := i.Around(context.Background(), sc, func() (*stage.Output, error) {
			invocations++
			return stage.OK(nil), nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, 2, invocations)
}

func TestIdempotencySingleFlightPerFingerprint(t *testing.T) {
	t.Parallel()

	store := NewMemoryIdempotencyStore()
	i := NewIdempotencyInterceptor(store)
	sc := newStageContext(events.NoOpSink{})

	var builds atomic.Int32
	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := i.Around(context.Background(), sc, func() (*stage.Output, error) {
				builds.Add(1)
				time.Sleep(10 * time.Millisecond)
				return stage.OK(map[string]interface{}{"v": "computed"}), nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), builds.Load())
}

func TestIdempotencyDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	store := NewMemoryIdempotencyStore()
	i := NewIdempotencyInterceptor(store)
	sc := newStageContext(events.NoOpSink{})

	invocations := 0
	for n := 0; n < 2; n++ {
		_, err := i.Around(context.Background(), sc, func() (*stage.Output, error) {
			invocations++
			return stage.Fail("boom", false), nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, 2, invocations)
}

func TestFingerprintVariesWithInputsAndKey(t *testing.T) {
	t.Parallel()

	i := NewIdempotencyInterceptor(NewMemoryIdempotencyStore(), WithIdempotencyKey(func(sc *runctx.StageContext) string {
		return "user-key"
	}))

	pc := runctx.NewPipelineContext(runctx.NewSnapshot(runctx.Identity{}))
	require.NoError(t, pc.Outputs.Record("dep", 1, stage.OK(map[string]interface{}{"x": 1}), false))

	withDep := runctx.NewStageContext(pc, "work", stage.KindWork,
		runctx.NewStageInputs("work", []string{"dep"}, pc.Outputs, true), 1)
	withoutDep := runctx.NewStageContext(pc, "work", stage.KindWork,
		runctx.NewStageInputs("work", nil, pc.Outputs, true), 1)

	require.NotEqual(t, i.Fingerprint(withDep), i.Fingerprint(withoutDep))
	require.Contains(t, i.Fingerprint(withDep), "user-key")
}
