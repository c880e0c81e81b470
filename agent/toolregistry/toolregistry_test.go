package toolregistry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/core/agent"
	"github.com/agentloop/core/agent/toolregistry"
)

func searchSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"query": map[string]any{"type": "string"}},
		"required":             []any{"query"},
		"additionalProperties": false,
	}
}

func TestRegister_GetDefinitions(t *testing.T) {
	r := toolregistry.New()
	require.NoError(t, r.Register(toolregistry.Definition{
		Name: "search", InputSchema: searchSchema(), BroadExploration: true,
	}, func(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
		return agent.ToolResult{ID: call.ID, Success: true, Output: "found"}, nil
	}, "prefer narrow reads once a file is known"))

	defs := r.GetDefinitions([]string{"search", "missing"})
	require.Len(t, defs, 1)
	assert.Equal(t, "search", defs[0].Name)
	assert.Equal(t, []string{"search"}, r.BroadExplorationNames())
	assert.Equal(t, "prefer narrow reads once a file is known", r.GetContext("search"))
}

func TestExecute_RejectsInvalidInput(t *testing.T) {
	r := toolregistry.New()
	require.NoError(t, r.Register(toolregistry.Definition{Name: "search", InputSchema: searchSchema()},
		func(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
			return agent.ToolResult{Success: true}, nil
		}, ""))

	_, err := r.Execute(context.Background(), agent.ToolCall{Name: "search", Input: map[string]any{}})
	assert.Error(t, err)
}

func TestExecute_ValidInputDispatches(t *testing.T) {
	r := toolregistry.New()
	require.NoError(t, r.Register(toolregistry.Definition{Name: "search", InputSchema: searchSchema()},
		func(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
			return agent.ToolResult{ID: call.ID, Success: true, Output: call.Input["query"].(string)}, nil
		}, ""))

	res, err := r.Execute(context.Background(), agent.ToolCall{ID: "1", Name: "search", Input: map[string]any{"query": "foo"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "foo", res.Output)
}

func TestExecute_UnknownTool(t *testing.T) {
	r := toolregistry.New()
	_, err := r.Execute(context.Background(), agent.ToolCall{Name: "nope"})
	assert.ErrorIs(t, err, toolregistry.ErrUnknownTool)
}
