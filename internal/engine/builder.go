package engine

import (
	"fmt"

	sferrors "github.com/stageflow/stageflow/pkg/errors"

	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/stage"
)

// Builder accumulates stage specs and compiles them into a StageGraph.
// Methods are chainable; construction errors stick to the builder and
// surface from Build.
type Builder struct {
	name  string
	specs []StageSpec
	names map[string]int
	err   error
}

// NewBuilder creates an empty builder for the named pipeline.
func NewBuilder(name string) *Builder {
	if name == "" {
		name = "pipeline"
	}
	return &Builder{name: name, names: make(map[string]int)}
}

// Name returns the pipeline name.
func (b *Builder) Name() string { return b.name }

// StageOption customizes a stage declaration.
type StageOption func(*StageSpec)

// Conditional marks the stage for conditional-skip evaluation.
func Conditional() StageOption {
	return func(s *StageSpec) { s.Conditional = true }
}

// WithKind classifies the stage for interceptor policy.
func WithKind(kind stage.Kind) StageOption {
	return func(s *StageSpec) { s.Kind = kind }
}

// WithGuardRetry attaches a guard-retry policy to the stage.
func WithGuardRetry(policy stage.GuardRetryPolicy) StageOption {
	return func(s *StageSpec) {
		normalized := policy.Normalize()
		s.GuardRetry = &normalized
		if s.Kind == "" {
			s.Kind = stage.KindGuard
		}
	}
}

// Stage declares a stage. Dependencies are checked against declared names
// at Build time.
func (b *Builder) Stage(name string, runner runctx.Runner, deps []string, opts ...StageOption) *Builder {
	if b.err != nil {
		return b
	}

	spec := StageSpec{
		Name:      name,
		Runner:    runner,
		DependsOn: append([]string(nil), deps...),
	}
	for _, opt := range opts {
		opt(&spec)
	}
	if spec.Kind == "" {
		spec.Kind = stage.KindWork
	}

	if err := spec.Validate(); err != nil {
		b.err = err
		return b
	}
	if _, exists := b.names[spec.Name]; exists {
		b.err = sferrors.NewValidationError(sferrors.CodeConflict,
			fmt.Sprintf("stage %q declared twice", spec.Name), nil)
		return b
	}

	b.names[spec.Name] = len(b.specs)
	b.specs = append(b.specs, spec)
	return b
}

// Compose merges another builder's stages into a new builder named
// "{left}+{right}". Identical duplicate specs collapse; divergent
// duplicates are a conflict.
func (b *Builder) Compose(other *Builder) *Builder {
	merged := NewBuilder(b.name + "+" + other.name)
	if b.err != nil {
		merged.err = b.err
		return merged
	}
	if other.err != nil {
		merged.err = other.err
		return merged
	}

	merged.specs = append(merged.specs, b.specs...)
	for name, idx := range b.names {
		merged.names[name] = idx
	}

	for _, spec := range other.specs {
		if idx, exists := merged.names[spec.Name]; exists {
			if !merged.specs[idx].equivalent(spec) {
				merged.err = sferrors.NewValidationError(sferrors.CodeConflict,
					fmt.Sprintf("composed pipelines disagree on stage %q", spec.Name), nil)
				return merged
			}
			continue
		}
		merged.names[spec.Name] = len(merged.specs)
		merged.specs = append(merged.specs, spec)
	}
	return merged
}

// Build validates the accumulated specs and compiles the immutable graph.
func (b *Builder) Build() (*StageGraph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.specs) == 0 {
		return nil, sferrors.NewValidationError(sferrors.CodeEmpty, "pipeline has no stages", nil)
	}
	return compileGraph(b.name, b.specs)
}
