package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/internal/engine"
	"github.com/stageflow/stageflow/internal/registry"
	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/script"
	"github.com/stageflow/stageflow/internal/stage"
	sferrors "github.com/stageflow/stageflow/pkg/errors"
)

const sampleConfig = `
version: "1.0"
name: demo
settings:
  failure_mode: continue_on_failure
  stage_timeout: 30
  max_concurrent: 4
stages:
  - name: seed
    type: static
    with:
      v: 1
  - name: double
    type: script
    depends_on: [seed]
    with:
      code: "return { v: ctx.v * 2 };"
`

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register("static", func(cfg map[string]interface{}) (runctx.Runner, error) {
		return runctx.RunnerFunc(func(context.Context, *runctx.StageContext) (*stage.Output, error) {
			return stage.OK(cfg), nil
		}), nil
	}))
	require.NoError(t, reg.Register("script", func(cfg map[string]interface{}) (runctx.Runner, error) {
		code, _ := cfg["code"].(string)
		return script.New(code), nil
	}))
	return reg
}

func TestParseBytesValidConfig(t *testing.T) {
	t.Parallel()

	cfg, err := ParseBytes([]byte(sampleConfig))
	require.NoError(t, err)
	require.Equal(t, "demo", cfg.Name)
	require.Len(t, cfg.Stages, 2)
	require.Equal(t, engine.ContinueOnFailure, cfg.Settings.FailureModeValue())
}

func TestParseBytesRejectsBadYAML(t *testing.T) {
	t.Parallel()

	_, err := ParseBytes([]byte("stages: ["))
	var perr *sferrors.ParseError
	require.ErrorAs(t, err, &perr)
}

func TestValidateRejectsMissingFields(t *testing.T) {
	t.Parallel()

	_, err := ParseBytes([]byte("version: \"1.0\"\nname: x\nstages: []\n"))
	require.Error(t, err)
}

func TestValidateRejectsBadStageName(t *testing.T) {
	t.Parallel()

	bad := `
version: "1.0"
name: demo
stages:
  - name: "Has Spaces"
    type: static
`
	_, err := ParseBytes([]byte(bad))
	require.Error(t, err)
}

func TestValidateRejectsDuplicateStageNames(t *testing.T) {
	t.Parallel()

	dup := `
version: "1.0"
name: demo
stages:
  - name: a
    type: static
  - name: a
    type: static
`
	_, err := ParseBytes([]byte(dup))
	var verr *sferrors.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, sferrors.CodeConflict, verr.Code)
}

func TestBuildGraphAndExecute(t *testing.T) {
	t.Parallel()

	cfg, err := ParseBytes([]byte(sampleConfig))
	require.NoError(t, err)

	graph, err := BuildGraph(cfg, testRegistry(t))
	require.NoError(t, err)
	require.Equal(t, 2, graph.Len())

	pc := runctx.NewPipelineContext(runctx.NewSnapshot(runctx.Identity{}))
	scheduler := engine.NewScheduler(graph, cfg.Settings.SchedulerOptions())
	result, err := scheduler.Execute(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, "completed", result.Status)

	out, ok := pc.Outputs.Latest("double")
	require.True(t, ok)
	require.EqualValues(t, 2, out.Data["v"])
}

func TestBuildGraphUnknownRunnerType(t *testing.T) {
	t.Parallel()

	cfg, err := ParseBytes([]byte(`
version: "1.0"
name: demo
stages:
  - name: mystery
    type: not_registered
`))
	require.NoError(t, err)

	_, err = BuildGraph(cfg, testRegistry(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown runner type")
}
