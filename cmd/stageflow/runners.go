package main

import (
	"context"

	"github.com/stageflow/stageflow/internal/registry"
	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/script"
	"github.com/stageflow/stageflow/internal/stage"
)

// builtinRegistry registers the runner types available to config-driven
// pipelines: static stages emitting their configuration as data, and
// JavaScript stages evaluated with goja.
func builtinRegistry() (*registry.Registry, error) {
	reg := registry.New()

	if err := reg.Register("static", func(cfg map[string]interface{}) (runctx.Runner, error) {
		return runctx.RunnerFunc(func(context.Context, *runctx.StageContext) (*stage.Output, error) {
			return stage.OK(cfg), nil
		}), nil
	}); err != nil {
		return nil, err
	}

	if err := reg.Register("script", func(cfg map[string]interface{}) (runctx.Runner, error) {
		code, _ := cfg["code"].(string)
		return script.New(code), nil
	}); err != nil {
		return nil, err
	}

	return reg, nil
}
