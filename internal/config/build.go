package config

import (
	"fmt"
	"time"

	"github.com/stageflow/stageflow/internal/engine"
	"github.com/stageflow/stageflow/internal/registry"
	"github.com/stageflow/stageflow/internal/stage"
)

// BuildGraph assembles the executable graph from a validated config,
// constructing each stage's runner through the registry.
func BuildGraph(cfg *Config, reg *registry.Registry) (*engine.StageGraph, error) {
	builder := engine.NewBuilder(cfg.Name)

	for _, st := range cfg.Stages {
		runner, err := reg.Build(st.Type, st.With)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", st.Name, err)
		}

		opts := make([]engine.StageOption, 0, 3)
		if st.Conditional {
			opts = append(opts, engine.Conditional())
		}
		if st.Kind != "" {
			opts = append(opts, engine.WithKind(stage.Kind(st.Kind)))
		}
		if st.GuardRetry != nil {
			opts = append(opts, engine.WithGuardRetry(stage.GuardRetryPolicy{
				MaxAttempts:      st.GuardRetry.MaxAttempts,
				StagnationWindow: st.GuardRetry.StagnationWindow,
				Timeout:          time.Duration(st.GuardRetry.Timeout) * time.Second,
			}))
		}

		builder.Stage(st.Name, runner, st.DependsOn, opts...)
	}

	return builder.Build()
}
