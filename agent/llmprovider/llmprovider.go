// Package llmprovider defines the LLMProvider boundary (§6): the collaborator
// interface the execution loop, reflection engine, and orchestrator use to
// invoke a model, independent of which vendor backs a given tier. Concrete
// adapters live in the anthropic and openai subpackages.
package llmprovider

import (
	"context"

	"github.com/agentloop/core/agent/model"
)

// ToolChoiceNone forces a chat call to respond with text only, no tool
// calls - used by forced synthesis (§4.9).
const ToolChoiceNone = "none"

// ToolSpec describes one tool available to the model in a ChatWithTools
// call, mirroring the shape the toolregistry collaborator exposes via
// GetDefinitions.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ChatOptions configures a ChatWithTools call.
type ChatOptions struct {
	Tools       []ToolSpec
	Temperature float64
	// ToolChoice is "" (let the model decide), "none" (ToolChoiceNone), or a
	// specific tool name to force.
	ToolChoice string
	MaxTokens  int
}

// ToolCallOut is one tool invocation the model requested.
type ToolCallOut struct {
	ID    string
	Name  string
	Input map[string]any
}

// ChatResponse is the result of a ChatWithTools call.
type ChatResponse struct {
	Content    string
	ToolCalls  []ToolCallOut
	Usage      model.TokenUsage
	Model      string
	StopReason string
}

// CompleteOptions configures a text-only Complete call.
type CompleteOptions struct {
	Temperature float64
	MaxTokens   int
}

// CompleteResponse is the result of a Complete call.
type CompleteResponse struct {
	Content string
	Usage   model.TokenUsage
	Model   string
}

// Provider is the collaborator interface the runtime holds per tier (§4.6,
// §6). Implementations must honor ChatOptions.ToolChoice == ToolChoiceNone
// by returning a response with no tool calls even when Tools is non-empty -
// forced synthesis relies on this to get a text-only answer.
type Provider interface {
	ChatWithTools(ctx context.Context, messages []model.Message, opts ChatOptions) (ChatResponse, error)
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (CompleteResponse, error)
}
