// Package script provides a stage runner that evaluates user JavaScript
// with goja. The script sees its declared inputs as `ctx` and returns the
// output data map.
package script

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/stage"
)

// Runner evaluates a JavaScript body per execution. Each run gets a fresh
// goja runtime, so runners are safe for concurrent stages.
type Runner struct {
	code string
}

// New creates a script runner from the JavaScript body. The body may use
// `return` at top level; it is wrapped in a function before evaluation.
func New(code string) *Runner {
	return &Runner{code: code}
}

// Execute evaluates the script. The merged stage inputs are exposed as
// `ctx`, plus `ctx._stage` with the stage name and attempt. A returned
// object becomes the output data map; a returned string `skip:<reason>`
// skips the stage.
func (r *Runner) Execute(_ context.Context, sc *runctx.StageContext) (*stage.Output, error) {
	vm := goja.New()

	jsCtx := map[string]interface{}{}
	if sc != nil && sc.Inputs != nil {
		jsCtx = sc.Inputs.Merged()
	}
	if sc != nil {
		jsCtx["_stage"] = map[string]interface{}{
			"name":    sc.Name,
			"attempt": sc.Attempt,
		}
	}

	if err := vm.Set("ctx", jsCtx); err != nil {
		return nil, fmt.Errorf("failed to bind script context: %w", err)
	}

	// Wrap in an IIFE so the body can use top-level return.
	wrapped := "(function() {\n" + r.code + "\n})()"
	value, err := vm.RunString(wrapped)
	if err != nil {
		return stage.Fail(fmt.Sprintf("script error: %v", err), false), nil
	}

	exported := value.Export()
	switch v := exported.(type) {
	case nil:
		return stage.OK(nil), nil
	case map[string]interface{}:
		return stage.OK(v), nil
	case string:
		if len(v) > 5 && v[:5] == "skip:" {
			return stage.Skip(v[5:]), nil
		}
		return stage.OK(map[string]interface{}{"result": v}), nil
	default:
		return stage.OK(map[string]interface{}{"result": v}), nil
	}
}
