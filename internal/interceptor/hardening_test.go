package interceptor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/internal/events"
	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/stage"
)

func TestImmutabilityPassesUntouchedSnapshot(t *testing.T) {
	t.Parallel()

	sc := newStageContext(events.NoOpSink{})
	i := NewImmutabilityInterceptor()

	out, err := i.Around(context.Background(), sc, func() (*stage.Output, error) {
		return stage.OK(nil), nil
	})
	require.NoError(t, err)
	require.Equal(t, stage.StatusOK, out.Status)
}

func TestImmutabilityDetectsSnapshotMutation(t *testing.T) {
	t.Parallel()

	pc := runctx.NewPipelineContext(runctx.NewSnapshot(runctx.Identity{}).WithMetadata("k", "v"))
	sc := runctx.NewStageContext(pc, "rogue", stage.KindWork, nil, 1)
	i := NewImmutabilityInterceptor()

	_, err := i.Around(context.Background(), sc, func() (*stage.Output, error) {
		// Reaching through the accessor and mutating the shared map violates
		// the snapshot contract.
		sc.Pipeline.Snapshot().Metadata()["k"] = "mutated"
		return stage.OK(nil), nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "mutated the immutable snapshot")
}

func TestContextSizeWarningOnGrowth(t *testing.T) {
	t.Parallel()

	capture := events.NewCaptureSink()
	sc := newStageContext(capture)
	i := NewContextSizeInterceptor(64)

	_, err := i.Around(context.Background(), sc, func() (*stage.Output, error) {
		return stage.OK(nil), sc.Pipeline.Bag.Set("blob", strings.Repeat("x", 512))
	})
	require.NoError(t, err)

	warnings := capture.OfType(events.ContextSizeWarning)
	require.Len(t, warnings, 1)
	require.Equal(t, 1, warnings[0].Data["changed_keys"])
	require.Greater(t, warnings[0].Data["growth_bytes"].(int), 64)
}

func TestContextSizeNoWarningUnderThreshold(t *testing.T) {
	t.Parallel()

	capture := events.NewCaptureSink()
	sc := newStageContext(capture)
	i := NewContextSizeInterceptor(1 << 20)

	_, err := i.Around(context.Background(), sc, func() (*stage.Output, error) {
		return stage.OK(nil), sc.Pipeline.Bag.Set("small", "v")
	})
	require.NoError(t, err)
	require.Empty(t, capture.OfType(events.ContextSizeWarning))
}
