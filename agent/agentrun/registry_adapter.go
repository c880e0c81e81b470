package agentrun

import (
	"context"

	"github.com/agentloop/core/agent"
	"github.com/agentloop/core/agent/execloop"
	"github.com/agentloop/core/agent/toolregistry"
)

// RegistryAdapter narrows a *toolregistry.Registry to execloop.ToolRegistry,
// translating toolregistry.Definition to the execloop-exported
// execloop.ToolDefinition so the execution loop never has to import
// toolregistry directly.
type RegistryAdapter struct {
	reg *toolregistry.Registry
}

// NewRegistryAdapter wraps reg.
func NewRegistryAdapter(reg *toolregistry.Registry) RegistryAdapter {
	return RegistryAdapter{reg: reg}
}

func (a RegistryAdapter) GetDefinitions(names []string) []execloop.ToolDefinition {
	defs := a.reg.GetDefinitions(names)
	out := make([]execloop.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, execloop.ToolDefinition{
			Name: d.Name, Description: d.Description, InputSchema: d.InputSchema, BroadExploration: d.BroadExploration,
		})
	}
	return out
}

func (a RegistryAdapter) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	return a.reg.Execute(ctx, call)
}

func (a RegistryAdapter) BroadExplorationNames() []string {
	return a.reg.BroadExplorationNames()
}
