package cancel

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskGroupWaitsForAllChildren(t *testing.T) {
	t.Parallel()

	group := NewTaskGroup(context.Background(), nil, nil)
	var count atomic.Int32

	for i := 0; i < 3; i++ {
		group.Go(func(ctx context.Context) error {
			count.Add(1)
			return nil
		})
	}

	require.NoError(t, group.Wait())
	require.Equal(t, int32(3), count.Load())
}

func TestTaskGroupCancelsSiblingsOnFailure(t *testing.T) {
	t.Parallel()

	group := NewTaskGroup(context.Background(), nil, nil)
	var observedCancel atomic.Bool

	group.Go(func(ctx context.Context) error {
		return fmt.Errorf("child failed")
	})
	group.Go(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			observedCancel.Store(true)
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	err := group.Wait()
	require.Error(t, err)
	require.True(t, observedCancel.Load())
	require.True(t, group.Token().IsCancelled())
	require.Equal(t, "child failed", group.Token().Reason())
}

func TestTaskGroupRunsCleanupOnAllPaths(t *testing.T) {
	t.Parallel()

	cleanupRan := false
	registry := NewCleanupRegistry()
	registry.Register(func(context.Context) error {
		cleanupRan = true
		return nil
	}, "release")

	group := NewTaskGroup(context.Background(), nil, registry)
	group.Go(func(ctx context.Context) error { return fmt.Errorf("boom") })

	require.Error(t, group.Wait())
	require.True(t, cleanupRan)
}

func TestTaskGroupSkipsNewChildrenWhenTokenCancelled(t *testing.T) {
	t.Parallel()

	token := NewToken(nil)
	token.Cancel("stop")
	group := NewTaskGroup(context.Background(), token, nil)

	ran := false
	group.Go(func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.Error(t, group.Wait())
	require.False(t, ran)
}
