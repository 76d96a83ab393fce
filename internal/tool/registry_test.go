package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	sferrors "github.com/stageflow/stageflow/pkg/errors"
)

func echoDefinition(actionType string) *Definition {
	return &Definition{
		ActionType: actionType,
		Handler: func(_ context.Context, args map[string]interface{}) (*Result, error) {
			return &Result{Data: args}, nil
		},
	}
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register(echoDefinition("echo")))

	def, err := registry.Resolve("echo")
	require.NoError(t, err)
	require.Equal(t, "echo", def.ActionType)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register(echoDefinition("echo")))
	require.Error(t, registry.Register(echoDefinition("echo")))
	require.Error(t, registry.RegisterLazy("echo", func() *Definition { return echoDefinition("echo") }))
}

func TestRegistryLazyFactoryMemoized(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	built := 0
	require.NoError(t, registry.RegisterLazy("lazy", func() *Definition {
		built++
		return echoDefinition("lazy")
	}))

	first, err := registry.Resolve("lazy")
	require.NoError(t, err)
	second, err := registry.Resolve("lazy")
	require.NoError(t, err)

	require.Equal(t, 1, built)
	require.Same(t, first, second)
}

func TestResolveUnknownActionType(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Resolve("ghost")
	var notFound *sferrors.ToolNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestParseAndResolveOpenAIStyle(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register(echoDefinition("search")))

	resolved, unresolved := registry.ParseAndResolve(map[string]interface{}{
		"function": map[string]interface{}{
			"name":      "search",
			"arguments": `{"query": "weather", "limit": 3}`,
		},
	}, CallFields{})

	require.Nil(t, unresolved)
	require.Equal(t, "search", resolved.ActionType)
	require.Equal(t, "weather", resolved.Args["query"])
	require.EqualValues(t, 3, resolved.Args["limit"])
}

func TestParseAndResolveInvalidJSON(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register(echoDefinition("search")))

	resolved, unresolved := registry.ParseAndResolve(map[string]interface{}{
		"function": map[string]interface{}{
			"name":      "search",
			"arguments": `{"query": `,
		},
	}, CallFields{})

	require.Nil(t, resolved)
	require.Contains(t, unresolved.Error, "Invalid JSON")
}

func TestParseAndResolveUnknownTool(t *testing.T) {
	t.Parallel()

	resolved, unresolved := NewRegistry().ParseAndResolve(map[string]interface{}{
		"function": map[string]interface{}{"name": "ghost", "arguments": "{}"},
	}, CallFields{})

	require.Nil(t, resolved)
	require.Contains(t, unresolved.Error, "No tool registered")
}

func TestParseAndResolveCustomFields(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register(echoDefinition("notify")))

	resolved, unresolved := registry.ParseAndResolve(map[string]interface{}{
		"action": map[string]interface{}{
			"tool":  "notify",
			"input": map[string]interface{}{"channel": "ops"},
		},
	}, CallFields{Container: "action", Name: "tool", Arguments: "input"})

	require.Nil(t, unresolved)
	require.Equal(t, "notify", resolved.ActionType)
	require.Equal(t, "ops", resolved.Args["channel"])
}
