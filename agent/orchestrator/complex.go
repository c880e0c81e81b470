package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentloop/core/agent"
	"github.com/agentloop/core/agent/llmprovider"
	"github.com/agentloop/core/agent/stream"
)

// decomposition is the decomposition-decision tool's output shape (§4.11).
type decomposition struct {
	TaskType            string   `json:"taskType"`
	ShouldDecompose     bool     `json:"shouldDecompose"`
	Subtasks            []string `json:"subtasks"`
	EstimatedIterations int      `json:"estimatedIterations"`
}

// planAction is the LLM's answer to the "skip | reorder | continue" check
// run after two consecutive subtask failures (§4.11).
type planAction string

const (
	planSkip     planAction = "skip"
	planReorder  planAction = "reorder"
	planContinue planAction = "continue"
)

const consecutiveFailureThreshold = 2

// runComplex asks the decomposition-decision tool whether task should be
// split into subtasks; if not, it falls through to a single Agent run.
// Otherwise it executes the subtasks in order, adapting the remaining plan
// after repeated failures and after an LLM-judged necessity check (§4.11).
func (o *Orchestrator) runComplex(ctx context.Context, task agent.Task, sessionID string) (*agent.TaskResult, error) {
	decision := o.decompose(ctx, task)
	if !decision.ShouldDecompose || len(decision.Subtasks) == 0 {
		return o.runSingleAgent(ctx, task, sessionID)
	}

	runID := agent.NewRunID()
	subtasks := append([]string(nil), decision.Subtasks...)
	consecutiveFailures := 0

	var lastResult *agent.TaskResult
	for i := 0; i < len(subtasks); i++ {
		subtask := subtasks[i]
		subtaskID := agent.NewSubtaskID()
		o.emit(sessionID, stream.EventSubtaskStart, map[string]any{"subtaskId": subtaskID, "subtask": subtask, "index": i})

		agentID := agent.NewAgentID()
		a := o.newAgent(agent.Task{ID: subtaskID, Text: subtask, TargetDir: task.TargetDir}, sessionID, runID, agentID, agent.TierMedium, nil)
		result, err := a.Run(ctx, o.toolNames())
		o.retireAgent(agentID)
		if err != nil {
			return nil, err
		}
		lastResult = result
		o.emit(sessionID, stream.EventSubtaskEnd, map[string]any{"subtaskId": subtaskID, "success": result.Success})

		if result.Success {
			consecutiveFailures = 0
		} else {
			consecutiveFailures++
		}

		if consecutiveFailures >= consecutiveFailureThreshold && i < len(subtasks)-1 {
			action := o.decideFailureAction(ctx, task, subtasks[i+1:])
			o.emit(sessionID, stream.EventOrchestratorPlan, map[string]any{
				"event": "PlanUpdate", "action": string(action), "afterSubtask": subtask,
			})
			switch action {
			case planSkip:
				subtasks = append(subtasks[:i+1], subtasks[i+2:]...)
			case planReorder:
				if i+2 < len(subtasks) {
					subtasks[i+1], subtasks[len(subtasks)-1] = subtasks[len(subtasks)-1], subtasks[i+1]
				}
			}
			consecutiveFailures = 0
		}

		if i < len(subtasks)-1 && !o.remainingSubtasksNecessary(ctx, task, subtasks[i+1:]) {
			o.emit(sessionID, stream.EventOrchestratorPlan, map[string]any{
				"event": "PlanUpdate", "action": "stop_early", "afterSubtask": subtask,
			})
			break
		}
	}
	return lastResult, nil
}

// runSingleAgent is the complex path's shouldDecompose==false fallback: one
// medium-tier Agent runs the whole task.
func (o *Orchestrator) runSingleAgent(ctx context.Context, task agent.Task, sessionID string) (*agent.TaskResult, error) {
	runID := agent.NewRunID()
	agentID := agent.NewAgentID()
	a := o.newAgent(task, sessionID, runID, agentID, agent.TierMedium, nil)
	defer o.retireAgent(agentID)
	return a.Run(ctx, o.toolNames())
}

// decompose asks the classifier provider for a decomposition decision,
// defaulting to "do not decompose" (run as a single agent) on any provider
// or parse failure - the conservative choice, since a wrongly-flat plan
// just means one larger Agent run rather than a broken subtask sequence.
func (o *Orchestrator) decompose(ctx context.Context, task agent.Task) decomposition {
	fallback := decomposition{ShouldDecompose: false}
	prov := o.cfg.Providers.Get(agent.TierMedium)
	if prov == nil {
		return fallback
	}
	prompt := fmt.Sprintf(
		"Decide whether this task should be decomposed into an ordered sequence of "+
			"distinct subtasks. Respond with JSON: {\"taskType\": \"...\", "+
			"\"shouldDecompose\": true|false, \"subtasks\": [\"...\"], "+
			"\"estimatedIterations\": N}.\nTask: %s", task.Text)
	resp, err := prov.Complete(ctx, prompt, llmprovider.CompleteOptions{MaxTokens: 500})
	if err != nil {
		return fallback
	}
	var d decomposition
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &d); err != nil {
		return fallback
	}
	return d
}

// decideFailureAction asks whether to skip, reorder, or continue with the
// remaining subtasks after two consecutive failures, defaulting to
// "continue" (the least disruptive choice) on provider failure.
func (o *Orchestrator) decideFailureAction(ctx context.Context, task agent.Task, remaining []string) planAction {
	prov := o.cfg.Providers.Get(agent.TierMedium)
	if prov == nil {
		return planContinue
	}
	prompt := fmt.Sprintf(
		"Task: %s\nTwo consecutive subtasks just failed. Remaining subtasks:\n- %s\n"+
			"Respond with exactly one word - skip, reorder, or continue.",
		task.Text, strings.Join(remaining, "\n- "))
	resp, err := prov.Complete(ctx, prompt, llmprovider.CompleteOptions{MaxTokens: 5})
	if err != nil {
		return planContinue
	}
	switch strings.ToLower(strings.TrimSpace(resp.Content)) {
	case string(planSkip):
		return planSkip
	case string(planReorder):
		return planReorder
	default:
		return planContinue
	}
}

// remainingSubtasksNecessary asks whether the still-pending subtasks remain
// worth running given progress so far (adaptive plan adjustment, §4.11).
// Defaults to true (keep going) on provider failure.
func (o *Orchestrator) remainingSubtasksNecessary(ctx context.Context, task agent.Task, remaining []string) bool {
	prov := o.cfg.Providers.Get(agent.TierSmall)
	if prov == nil {
		return true
	}
	prompt := fmt.Sprintf(
		"Task: %s\nRemaining planned subtasks:\n- %s\nAre these still necessary given "+
			"progress so far? Respond with exactly one word - yes or no.",
		task.Text, strings.Join(remaining, "\n- "))
	resp, err := prov.Complete(ctx, prompt, llmprovider.CompleteOptions{MaxTokens: 3})
	if err != nil {
		return true
	}
	return strings.ToLower(strings.TrimSpace(resp.Content)) != "no"
}
