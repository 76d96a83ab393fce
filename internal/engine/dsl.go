package engine

import (
	"fmt"

	"github.com/stageflow/stageflow/internal/runctx"
)

// RunnerFactory produces a runner for a generated stage name. Used by the
// shape helpers below.
type RunnerFactory func(name string) runctx.Runner

// WithLinearChain appends count stages named chain_1..chain_N, each
// depending on its predecessor. The first link depends on firstDependsOn.
// count <= 0 leaves the builder unchanged.
func (b *Builder) WithLinearChain(count int, factory RunnerFactory, firstDependsOn ...string) *Builder {
	if count <= 0 {
		return b
	}
	prev := append([]string(nil), firstDependsOn...)
	for i := 1; i <= count; i++ {
		name := fmt.Sprintf("chain_%d", i)
		b.Stage(name, factory(name), prev)
		prev = []string{name}
	}
	return b
}

// WithParallelStages appends count independent stages named
// parallel_1..parallel_N sharing the same dependencies. count <= 0 leaves
// the builder unchanged.
func (b *Builder) WithParallelStages(count int, factory RunnerFactory, dependsOn ...string) *Builder {
	if count <= 0 {
		return b
	}
	for i := 1; i <= count; i++ {
		name := fmt.Sprintf("parallel_%d", i)
		b.Stage(name, factory(name), dependsOn)
	}
	return b
}

// WithFanOutFanIn appends a fan-out stage, workers worker stages depending
// on it, and a fan-in stage depending on every worker. workers <= 0 leaves
// the builder unchanged.
func (b *Builder) WithFanOutFanIn(fanout string, workers int, fanin string, factory RunnerFactory) *Builder {
	if workers <= 0 {
		return b
	}
	b.Stage(fanout, factory(fanout), nil)
	workerNames := make([]string, 0, workers)
	for i := 1; i <= workers; i++ {
		name := fmt.Sprintf("worker_%d", i)
		b.Stage(name, factory(name), []string{fanout})
		workerNames = append(workerNames, name)
	}
	b.Stage(fanin, factory(fanin), workerNames)
	return b
}

// WithConditionalBranch appends a router stage, conditional branch stages
// depending on it, and a merge stage depending on every branch. No branches
// leaves the builder unchanged.
func (b *Builder) WithConditionalBranch(router string, branches []string, merge string, factory RunnerFactory) *Builder {
	if len(branches) == 0 {
		return b
	}
	b.Stage(router, factory(router), nil)
	for _, branch := range branches {
		b.Stage(branch, factory(branch), []string{router}, Conditional())
	}
	b.Stage(merge, factory(merge), branches)
	return b
}
