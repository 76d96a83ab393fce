package runctx

import (
	"fmt"

	sferrors "github.com/stageflow/stageflow/pkg/errors"

	"github.com/stageflow/stageflow/internal/stage"
)

// StageInputs is a read-only projection of the output bag restricted to a
// stage's declared dependencies. In strict mode, reads against undeclared
// stages fail with UndeclaredDependencyError.
type StageInputs struct {
	stageName string
	declared  []string
	bag       *OutputBag
	strict    bool
}

// NewStageInputs builds the declared-dependency view for a stage.
func NewStageInputs(stageName string, declared []string, bag *OutputBag, strict bool) *StageInputs {
	return &StageInputs{
		stageName: stageName,
		declared:  append([]string(nil), declared...),
		bag:       bag,
		strict:    strict,
	}
}

// Declared returns the declared dependency names in declaration order.
func (in *StageInputs) Declared() []string {
	return append([]string(nil), in.declared...)
}

// GetFrom returns the value stored under key in the named dependency's
// latest output.
func (in *StageInputs) GetFrom(stageName, key string) (interface{}, error) {
	if !in.isDeclared(stageName) {
		if in.strict {
			return nil, sferrors.NewUndeclaredDependencyError(in.stageName, stageName)
		}
		return nil, nil
	}
	out, ok := in.bag.Latest(stageName)
	if !ok {
		return nil, nil
	}
	return out.Data[key], nil
}

// Output returns the named dependency's latest output.
func (in *StageInputs) Output(stageName string) (*stage.Output, error) {
	if !in.isDeclared(stageName) {
		if in.strict {
			return nil, sferrors.NewUndeclaredDependencyError(in.stageName, stageName)
		}
		return nil, nil
	}
	out, ok := in.bag.Latest(stageName)
	if !ok {
		return nil, nil
	}
	return out, nil
}

// Get returns the value stored under key by the unique declared producer.
// When more than one dependency produced the key, Get fails; use GetFrom.
func (in *StageInputs) Get(key string) (interface{}, error) {
	var value interface{}
	var producer string
	found := false

	for _, dep := range in.declared {
		out, ok := in.bag.Latest(dep)
		if !ok {
			continue
		}
		v, ok := out.Data[key]
		if !ok {
			continue
		}
		if found {
			return nil, fmt.Errorf("input key %q is ambiguous: produced by %q and %q", key, producer, dep)
		}
		value, producer, found = v, dep, true
	}

	if !found {
		return nil, nil
	}
	return value, nil
}

// Merged flattens all declared dependencies' data maps into one view. Later
// dependencies in declaration order win on key collisions.
func (in *StageInputs) Merged() map[string]interface{} {
	out := make(map[string]interface{})
	for _, dep := range in.declared {
		dependencyOut, ok := in.bag.Latest(dep)
		if !ok {
			continue
		}
		for k, v := range dependencyOut.Data {
			out[k] = v
		}
	}
	return out
}

func (in *StageInputs) isDeclared(stageName string) bool {
	for _, dep := range in.declared {
		if dep == stageName {
			return true
		}
	}
	return false
}
