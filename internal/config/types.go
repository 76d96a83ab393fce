package config

import (
	"time"

	"github.com/stageflow/stageflow/internal/engine"
)

// Config is a pipeline definition loaded from YAML.
type Config struct {
	Version  string        `yaml:"version" validate:"required,semver"`
	Name     string        `yaml:"name" validate:"required"`
	Settings Settings      `yaml:"settings"`
	Stages   []StageConfig `yaml:"stages" validate:"required,min=1,dive"`
}

// Settings holds run-level options.
type Settings struct {
	// FailureMode is one of fail_fast, continue_on_failure, best_effort.
	FailureMode string `yaml:"failure_mode" validate:"omitempty,oneof=fail_fast continue_on_failure best_effort"`
	// StageTimeout bounds each stage, in seconds. Zero disables.
	StageTimeout int `yaml:"stage_timeout" validate:"gte=0"`
	// MaxConcurrent caps parallel stages. Zero means unbounded.
	MaxConcurrent int `yaml:"max_concurrent" validate:"gte=0"`
	StrictInputs  bool `yaml:"strict_inputs"`
}

// StageConfig declares one stage.
type StageConfig struct {
	Name        string                 `yaml:"name" validate:"required,stage_name"`
	Type        string                 `yaml:"type" validate:"required"`
	DependsOn   []string               `yaml:"depends_on"`
	Conditional bool                   `yaml:"conditional"`
	Kind        string                 `yaml:"kind" validate:"omitempty,oneof=WORK ENRICHMENT ROUTER GUARD"`
	With        map[string]interface{} `yaml:"with"`
	GuardRetry  *GuardRetryConfig      `yaml:"guard_retry"`
}

// GuardRetryConfig declares a guard-retry policy; timeout is in seconds.
type GuardRetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" validate:"gte=0"`
	StagnationWindow int `yaml:"stagnation_window" validate:"gte=0"`
	Timeout          int `yaml:"timeout" validate:"gte=0"`
}

// FailureModeValue maps the settings string onto the scheduler's enum.
func (s Settings) FailureModeValue() engine.FailureMode {
	switch s.FailureMode {
	case "continue_on_failure":
		return engine.ContinueOnFailure
	case "best_effort":
		return engine.BestEffort
	default:
		return engine.FailFast
	}
}

// SchedulerOptions renders the settings as scheduler options.
func (s Settings) SchedulerOptions() engine.Options {
	return engine.Options{
		FailureMode:   s.FailureModeValue(),
		StrictInputs:  s.StrictInputs,
		StageTimeout:  time.Duration(s.StageTimeout) * time.Second,
		MaxConcurrent: int64(s.MaxConcurrent),
	}
}
