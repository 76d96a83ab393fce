// Package interceptor implements the middleware chain wrapped around stage
// execution: retry with backoff, idempotent result caching, and hardening
// checks.
package interceptor

import (
	"context"
	"sort"

	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/stage"
)

// Next invokes the stage or the next interceptor in the chain.
type Next func() (*stage.Output, error)

// Interceptor wraps stage execution. An interceptor may short-circuit by
// returning without calling next, or observe and transform the returned
// output.
type Interceptor interface {
	Around(ctx context.Context, sc *runctx.StageContext, next Next) (*stage.Output, error)
	Priority() int
}

// Chain holds interceptors ordered by ascending priority. Entry order on
// Around nesting follows priority; exit order is the reverse.
type Chain struct {
	interceptors []Interceptor
}

// NewChain builds a chain from the given interceptors, sorted by priority.
func NewChain(interceptors ...Interceptor) *Chain {
	sorted := append([]Interceptor(nil), interceptors...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Chain{interceptors: sorted}
}

// Execute runs the stage invocation through the chain. Entry follows
// ascending priority; the final next invokes the stage itself.
func (c *Chain) Execute(ctx context.Context, sc *runctx.StageContext, invoke Next) (*stage.Output, error) {
	if c == nil || len(c.interceptors) == 0 {
		return invoke()
	}

	var step func(i int) (*stage.Output, error)
	step = func(i int) (*stage.Output, error) {
		if i == len(c.interceptors) {
			return invoke()
		}
		return c.interceptors[i].Around(ctx, sc, func() (*stage.Output, error) {
			return step(i + 1)
		})
	}
	return step(0)
}

// Len returns the number of interceptors in the chain.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.interceptors)
}
