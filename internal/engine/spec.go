package engine

import (
	"fmt"
	"reflect"
	"strings"

	sferrors "github.com/stageflow/stageflow/pkg/errors"

	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/stage"
)

// StageSpec describes one stage of a pipeline: the runner, its declared
// dependencies and its execution options. Specs are immutable once added to
// a builder.
type StageSpec struct {
	Name        string
	Runner      runctx.Runner
	DependsOn   []string
	Conditional bool
	Kind        stage.Kind
	GuardRetry  *stage.GuardRetryPolicy
}

// Validate checks the spec's local invariants.
func (s StageSpec) Validate() error {
	if err := validateName(s.Name); err != nil {
		return err
	}
	if s.Runner == nil {
		return sferrors.NewValidationError("", fmt.Sprintf("stage %q has no runner", s.Name), nil)
	}
	for _, dep := range s.DependsOn {
		if dep == s.Name {
			return sferrors.NewValidationError("", fmt.Sprintf("stage %q cannot depend on itself", s.Name), nil)
		}
	}
	return nil
}

// equivalent reports whether two specs describe the same stage, used to
// collapse identical declarations during composition.
func (s StageSpec) equivalent(other StageSpec) bool {
	if s.Name != other.Name || s.Conditional != other.Conditional || s.Kind != other.Kind {
		return false
	}
	if len(s.DependsOn) != len(other.DependsOn) {
		return false
	}
	for i, dep := range s.DependsOn {
		if other.DependsOn[i] != dep {
			return false
		}
	}
	// Runner identity, not equality: two distinct runner instances are
	// different computations even if behaviorally alike.
	return sameRunner(s.Runner, other.Runner)
}

// sameRunner compares runner identity without panicking on uncomparable
// dynamic types such as RunnerFunc.
func sameRunner(a, b runctx.Runner) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	if reflect.ValueOf(a).Kind() == reflect.Func {
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	return false
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return sferrors.NewValidationError("", "stage name must be non-empty", nil)
	}
	return nil
}
