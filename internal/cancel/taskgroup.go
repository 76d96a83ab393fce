package cancel

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultCleanupBudget = 5 * time.Second

// TaskGroup is a structured-concurrency scope. Child tasks run until all
// complete or one fails; on failure the remaining children are canceled
// through the group context. Once every child has returned, Wait cancels the
// shared token with the failure as reason and runs the attached cleanup
// registry before returning.
type TaskGroup struct {
	group   *errgroup.Group
	ctx     context.Context
	token   *Token
	cleanup *CleanupRegistry
}

// NewTaskGroup creates a scope bound to the parent context. Token and
// cleanup may be nil, in which case fresh instances are created.
func NewTaskGroup(parent context.Context, token *Token, cleanup *CleanupRegistry) *TaskGroup {
	if token == nil {
		token = NewToken(nil)
	}
	if cleanup == nil {
		cleanup = NewCleanupRegistry()
	}

	group, ctx := errgroup.WithContext(parent)
	return &TaskGroup{group: group, ctx: ctx, token: token, cleanup: cleanup}
}

// Context returns the group's derived context, canceled when any child
// fails.
func (g *TaskGroup) Context() context.Context {
	return g.ctx
}

// Token returns the group's cancellation token.
func (g *TaskGroup) Token() *Token {
	return g.token
}

// Cleanup returns the registry run when the scope exits.
func (g *TaskGroup) Cleanup() *CleanupRegistry {
	return g.cleanup
}

// Go schedules a child task. The child receives the group context and should
// return promptly once it is canceled.
func (g *TaskGroup) Go(fn func(ctx context.Context) error) {
	g.group.Go(func() error {
		select {
		case <-g.token.Done():
			return context.Canceled
		default:
		}
		return fn(g.ctx)
	})
}

// Wait blocks until every child has returned. If any child failed, the
// token is canceled with that error as reason and the error is returned
// after cleanup completes. Cleanup runs on every exit path.
func (g *TaskGroup) Wait() error {
	err := g.group.Wait()
	if err != nil && !g.token.IsCancelled() {
		g.token.Cancel(err.Error())
	}
	g.cleanup.RunAll(defaultCleanupBudget)
	return err
}
