package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentloop/core/agent"
	"github.com/agentloop/core/agent/agentrun"
	"github.com/agentloop/core/agent/llmprovider"
	"github.com/agentloop/core/agent/model"
	"github.com/agentloop/core/agent/toolregistry"
)

// AskRequest is the question/answer channel's input (§4.11: "The Agent can
// call onAskOrchestrator({question, reason, context, iteration, subtask})").
type AskRequest struct {
	Question  string
	Reason    string
	Context   string
	Iteration int
	Subtask   string
}

// AskAction is the orchestrator's instruction back to the asking agent.
type AskAction string

const (
	ActionContinue      AskAction = "continue"
	ActionSkip          AskAction = "skip"
	ActionRetryWithHint AskAction = "retry_with_hint"
)

// AskResponse is the question/answer channel's output.
type AskResponse struct {
	Answer string
	Action AskAction
	Hint   string
}

// askToolName is the tool name agents invoke to reach the question/answer
// channel; OnAskOrchestrator's companion AskTool registers it with a given
// toolregistry.Registry.
const askToolName = "ask_orchestrator"

// OnAskOrchestrator analyses req with an LLM and decides how the asking
// agent should proceed (§4.11). A provider failure or unparseable response
// defaults to {action: continue}, the least disruptive choice - the asking
// agent keeps going on its own judgment rather than stalling on a broken
// collaborator.
func (o *Orchestrator) OnAskOrchestrator(ctx context.Context, req AskRequest) AskResponse {
	fallback := AskResponse{Answer: "No guidance available; use your own judgment.", Action: ActionContinue}
	prov := o.cfg.Providers.Get(agent.TierMedium)
	if prov == nil {
		return fallback
	}
	prompt := fmt.Sprintf(
		"A running subagent is asking for guidance.\nSubtask: %s\nIteration: %d\n"+
			"Question: %s\nReason it's asking: %s\nContext: %s\n\n"+
			"Respond with JSON: {\"answer\": \"...\", \"action\": "+
			"\"continue\"|\"skip\"|\"retry_with_hint\", \"hint\": \"...\"}.",
		req.Subtask, req.Iteration, req.Question, req.Reason, req.Context)
	resp, err := prov.Complete(ctx, prompt, llmprovider.CompleteOptions{MaxTokens: 300})
	if err != nil {
		return fallback
	}
	var parsed struct {
		Answer string `json:"answer"`
		Action string `json:"action"`
		Hint   string `json:"hint"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err != nil || parsed.Answer == "" {
		return fallback
	}
	action := ActionContinue
	switch AskAction(parsed.Action) {
	case ActionSkip:
		action = ActionSkip
	case ActionRetryWithHint:
		action = ActionRetryWithHint
	}
	return AskResponse{Answer: parsed.Answer, Action: action, Hint: parsed.Hint}
}

// AskTool returns the toolregistry Definition and Handler every agentrun.Agent
// the orchestrator constructs should have registered alongside its ordinary
// tools, giving it a way to reach OnAskOrchestrator mid-run.
func (o *Orchestrator) AskTool() (toolregistry.Definition, toolregistry.Handler) {
	def := toolregistry.Definition{
		Name:        askToolName,
		Description: "Ask the orchestrator for guidance when stuck or uncertain how to proceed.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{"type": "string"},
				"reason":   map[string]any{"type": "string"},
				"context":  map[string]any{"type": "string"},
				"subtask":  map[string]any{"type": "string"},
			},
			"required": []any{"question"},
		},
	}
	handler := func(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
		req := AskRequest{
			Question: stringField(call.Input, "question"),
			Reason:   stringField(call.Input, "reason"),
			Context:  stringField(call.Input, "context"),
			Subtask:  stringField(call.Input, "subtask"),
		}
		resp := o.OnAskOrchestrator(ctx, req)
		out, _ := json.Marshal(resp)
		return agent.ToolResult{
			ID:       call.ID,
			Success:  true,
			Output:   string(out),
			Metadata: map[string]any{"action": string(resp.Action)},
		}, nil
	}
	return def, handler
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// InjectCorrection routes message to one, some, or all running agents
// (§4.11's "Correction routing"): direct when targetAgentID names one of
// the currently active agents, the single active agent when exactly one is
// running, or an LLM-picked subset otherwise. Returns the number of agents
// the message was delivered to.
func (o *Orchestrator) InjectCorrection(ctx context.Context, message string, targetAgentID string) int {
	o.mu.Lock()
	targets := make(map[string]*agentrun.Agent, len(o.activeAgents))
	for id, a := range o.activeAgents {
		targets[id] = a
	}
	o.mu.Unlock()

	if len(targets) == 0 {
		return 0
	}

	if targetAgentID != "" {
		if a, ok := targets[targetAgentID]; ok {
			a.InjectUserContext(model.Message{Role: model.RoleUser, Text: message})
			return 1
		}
		return 0
	}

	if len(targets) == 1 {
		for _, a := range targets {
			a.InjectUserContext(model.Message{Role: model.RoleUser, Text: message})
		}
		return 1
	}

	picked := o.pickCorrectionTargets(ctx, message, targets)
	if len(picked) == 0 {
		// LLM pick failed or returned nothing usable: broadcast rather than
		// silently drop a correction the user asked to deliver.
		for _, a := range targets {
			a.InjectUserContext(model.Message{Role: model.RoleUser, Text: message})
		}
		return len(targets)
	}
	for _, id := range picked {
		if a, ok := targets[id]; ok {
			a.InjectUserContext(model.Message{Role: model.RoleUser, Text: message})
		}
	}
	return len(picked)
}

// pickCorrectionTargets asks which of the currently active agent ids should
// receive message, given each one's subtask text.
func (o *Orchestrator) pickCorrectionTargets(ctx context.Context, message string, targets map[string]*agentrun.Agent) []string {
	prov := o.cfg.Providers.Get(agent.TierSmall)
	if prov == nil {
		return nil
	}
	ids := make([]string, 0, len(targets))
	var b strings.Builder
	for id, a := range targets {
		ids = append(ids, id)
		fmt.Fprintf(&b, "- %s: %s\n", id, a.TaskText())
	}
	prompt := fmt.Sprintf(
		"A correction needs routing to the running agents it's relevant to.\n"+
			"Correction: %s\n\nActive agents:\n%s\n"+
			"Respond with JSON: {\"agentIds\": [\"...\"]} naming only the ids that should "+
			"receive it.", message, b.String())
	resp, err := prov.Complete(ctx, prompt, llmprovider.CompleteOptions{MaxTokens: 200})
	if err != nil {
		return nil
	}
	var parsed struct {
		AgentIDs []string `json:"agentIds"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err != nil {
		return nil
	}
	valid := ids[:0:0]
	validSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		validSet[id] = true
	}
	for _, id := range parsed.AgentIDs {
		if validSet[id] {
			valid = append(valid, id)
		}
	}
	return valid
}
