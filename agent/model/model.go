// Package model defines the provider-agnostic conversation and token-usage
// types shared by the execution loop, the LLM provider boundary (§6), and
// the session store's transcript persistence. It intentionally models only
// what the scheduler core needs - role-tagged text turns, tool calls, and
// tool results - not the full multimodal message model a production prompt
// builder would carry (images, documents, citations); those live with the
// excluded prompt-building layer (§1).
package model

// Role is the role of one turn in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is the assistant-issued request to invoke a tool, as it appears
// embedded in conversation history (distinct from agent.ToolCall, which is
// the runtime-facing shape used by the execution loop).
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultRef is a tool result embedded in conversation history, referring
// back to the ToolCall it answers by ID.
type ToolResultRef struct {
	ToolCallID string
	Output     string
	IsError    bool
}

// Message is one turn of conversation history.
type Message struct {
	Role Role
	// Text is the plain-text content of the turn. Empty for an assistant
	// turn that only carries tool calls.
	Text string
	// ToolCalls is non-empty only on assistant turns that requested tools.
	ToolCalls []ToolCall
	// ToolResults is non-empty only on tool turns answering prior calls.
	ToolResults []ToolResultRef
}

// TokenUsage reports token counts for one model invocation (§6:
// "usage?: {promptTokens, completionTokens}").
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns PromptTokens + CompletionTokens.
func (u TokenUsage) Total() int { return u.PromptTokens + u.CompletionTokens }
