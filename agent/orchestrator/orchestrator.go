// Package orchestrator implements the orchestrator (§4.11): classifying an
// incoming task as simple, research, or complex and driving the matching
// execution program. Each program ultimately runs one or more
// agentrun.Agent instances; the orchestrator owns only the decomposition,
// sequencing, and early-stop/verification decisions layered above them.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/agentloop/core/agent"
	"github.com/agentloop/core/agent/agentrun"
	"github.com/agentloop/core/agent/llmprovider"
	"github.com/agentloop/core/agent/model"
	"github.com/agentloop/core/agent/stream"
)

// TaskType is the orchestrator's classification of an incoming task (§4.11).
type TaskType string

const (
	TaskSimple   TaskType = "simple"
	TaskResearch TaskType = "research"
	TaskComplex  TaskType = "complex"
)

// simpleIterationCap is the "quick lookup" cap a simple-path Agent runs
// under before its result is judged inconclusive (§4.11).
const simpleIterationCap = 5

// inconclusiveSummaryChars is the summary-length threshold below which a
// simple-path result is treated as inconclusive even when Success is true.
const inconclusiveSummaryChars = 100

// earlyStopConfidence is the research path's per-subtask early-stop
// threshold (§4.11: "confidence >= 0.8").
const earlyStopConfidence = 0.8

// Config bundles the collaborators an Orchestrator needs.
type Config struct {
	// AgentConfig seeds every agentrun.Agent the orchestrator constructs;
	// the orchestrator only overrides per-call fields (tier, task budget).
	AgentConfig agentrun.Config
	Bus         *stream.Bus
	Registry    interface {
		Names() []string
	}
	// Providers serves task classification, sub-plan generation,
	// early-stop checks, decomposition decisions, and synthesis - all at
	// whatever tier the caller configures per call via Providers.
	Providers agentrun.Providers

	ToolNames []string

	MaxImprovementRounds int // research path, §4.12, default 2
	MaxGapFillSubtasks   int // research path, §4.12, default 3
}

func (c Config) resolve() Config {
	if c.MaxImprovementRounds <= 0 {
		c.MaxImprovementRounds = 2
	}
	if c.MaxGapFillSubtasks <= 0 {
		c.MaxGapFillSubtasks = 3
	}
	return c
}

// Orchestrator drives one or more agentrun.Agent runs per task, routing
// questions, corrections, and adaptive plan decisions between them (§4.11).
type Orchestrator struct {
	cfg Config

	mu           sync.Mutex
	activeAgents map[string]*agentrun.Agent
}

// New returns an Orchestrator configured with cfg.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg.resolve(), activeAgents: make(map[string]*agentrun.Agent)}
}

// Run classifies task and drives the matching execution program to
// completion.
func (o *Orchestrator) Run(ctx context.Context, task agent.Task, sessionID string) (*agent.TaskResult, error) {
	o.emit(sessionID, stream.EventOrchestratorStart, map[string]any{"task": task.Text})

	taskType := o.classify(ctx, task)
	var result *agent.TaskResult
	var err error
	switch taskType {
	case TaskResearch:
		result, err = o.runResearch(ctx, task, sessionID)
	case TaskComplex:
		result, err = o.runComplex(ctx, task, sessionID)
	default:
		result, err = o.runSimple(ctx, task, sessionID)
	}

	o.emit(sessionID, stream.EventOrchestratorEnd, map[string]any{
		"taskType": string(taskType), "success": result != nil && result.Success,
	})
	if result != nil {
		o.emit(sessionID, stream.EventOrchestratorAnswer, map[string]any{"summary": result.Summary})
	}
	return result, err
}

// classify asks the classifier provider to pick one of the three task
// types, falling back to TaskResearch (the safest middle ground: richer
// than a single quick lookup, without complex's decomposition machinery) on
// any provider failure or unparseable response.
func (o *Orchestrator) classify(ctx context.Context, task agent.Task) TaskType {
	prov := o.cfg.Providers.Get(agent.TierSmall)
	if prov == nil {
		return TaskResearch
	}
	prompt := fmt.Sprintf(
		"Classify this task as exactly one word - simple, research, or complex. "+
			"simple: a single quick lookup or tiny edit. research: requires exploring "+
			"multiple sources and synthesizing an answer. complex: requires decomposing "+
			"into an ordered sequence of distinct subtasks.\nTask: %s", task.Text)
	resp, err := prov.Complete(ctx, prompt, llmprovider.CompleteOptions{MaxTokens: 5})
	if err != nil {
		return TaskResearch
	}
	switch strings.ToLower(strings.TrimSpace(resp.Content)) {
	case string(TaskSimple):
		return TaskSimple
	case string(TaskComplex):
		return TaskComplex
	default:
		return TaskResearch
	}
}

// newAgent builds an agentrun.Agent for one (sub)task at the given start
// tier, registering it under agentID in activeAgents for correction
// routing and Q&A for the duration of the caller's Run call.
func (o *Orchestrator) newAgent(task agent.Task, sessionID, runID, agentID string, startTier agent.Tier, history []model.Message) *agentrun.Agent {
	cfg := o.cfg.AgentConfig
	cfg.Providers = o.cfg.Providers
	cfg.Bus = o.cfg.Bus
	cfg.StartTier = startTier

	a := agentrun.New(cfg, task, sessionID, runID, agentID, history)
	o.mu.Lock()
	o.activeAgents[agentID] = a
	o.mu.Unlock()
	return a
}

// toolNames returns the configured tool allow-list, falling back to every
// name the registry exposes when ToolNames is unset.
func (o *Orchestrator) toolNames() []string {
	if len(o.cfg.ToolNames) > 0 {
		return o.cfg.ToolNames
	}
	if o.cfg.Registry != nil {
		return o.cfg.Registry.Names()
	}
	return nil
}

func (o *Orchestrator) retireAgent(agentID string) {
	o.mu.Lock()
	delete(o.activeAgents, agentID)
	o.mu.Unlock()
}

// runSimple runs a single medium-tier Agent capped at simpleIterationCap
// iterations, escalating to the research path when the result is
// inconclusive (§4.11).
func (o *Orchestrator) runSimple(ctx context.Context, task agent.Task, sessionID string) (*agent.TaskResult, error) {
	cfg := o.cfg.AgentConfig
	cfg.MaxIterations = simpleIterationCap
	cfg.TaskBudget = simpleIterationCap
	cfg.Providers = o.cfg.Providers
	cfg.Bus = o.cfg.Bus
	cfg.StartTier = agent.TierMedium

	runID := agent.NewRunID()
	agentID := agent.NewAgentID()
	a := agentrun.New(cfg, task, sessionID, runID, agentID, nil)
	o.mu.Lock()
	o.activeAgents[agentID] = a
	o.mu.Unlock()
	defer o.retireAgent(agentID)

	result, err := a.Run(ctx, o.toolNames())
	if err != nil {
		return result, err
	}
	if inconclusive(result) {
		return o.runResearch(ctx, task, sessionID)
	}
	return result, nil
}

// inconclusive reports whether a simple-path result should escalate to the
// research path (§4.11: "iterations == cap OR summary < 100 chars OR
// success==false").
func inconclusive(r *agent.TaskResult) bool {
	if r == nil {
		return true
	}
	return r.Iterations == simpleIterationCap || len(r.Summary) < inconclusiveSummaryChars || !r.Success
}

// subPlan is the structured shape the sub-plan generation prompt asks
// for; parsed permissively since it comes from free-text LLM output.
type subPlan struct {
	Subtasks []string `json:"subtasks"`
}

// researchFinding is one completed subtask's contribution to the
// accumulated context passed to the next subtask and to final synthesis.
type researchFinding struct {
	Subtask string
	Summary string
	Success bool
}

// runResearch generates a 2-4 subtask research plan, executes subtasks
// sequentially with accumulated findings as context, allows early-stop once
// confidence clears earlyStopConfidence, synthesizes a final answer at the
// large tier, and optionally verifies it (§4.11, §4.12).
func (o *Orchestrator) runResearch(ctx context.Context, task agent.Task, sessionID string) (*agent.TaskResult, error) {
	runID := agent.NewRunID()
	plan := o.generateSubPlan(ctx, task)
	o.emit(sessionID, stream.EventOrchestratorPlan, map[string]any{"subtasks": plan})

	var findings []researchFinding
	for i, subtask := range plan {
		subtaskID := agent.NewSubtaskID()
		o.emit(sessionID, stream.EventSubtaskStart, map[string]any{"subtaskId": subtaskID, "subtask": subtask, "index": i})

		history := findingsAsHistory(findings)
		agentID := agent.NewAgentID()
		a := o.newAgent(agent.Task{ID: subtaskID, Text: subtask, TargetDir: task.TargetDir}, sessionID, runID, agentID, agent.TierMedium, history)
		result, err := a.Run(ctx, o.toolNames())
		o.retireAgent(agentID)
		if err != nil {
			return nil, err
		}
		finding := researchFinding{Subtask: subtask, Summary: result.Summary, Success: result.Success}
		findings = append(findings, finding)
		o.emit(sessionID, stream.EventSubtaskEnd, map[string]any{"subtaskId": subtaskID, "success": result.Success})

		if o.earlyStopConfident(ctx, task, findings) {
			break
		}
	}

	answer := o.synthesize(ctx, task, findings, nil, nil)
	result := &agent.TaskResult{Success: true, Summary: answer, Tier: agent.TierLarge}

	verified, final := o.verifyWithRetries(ctx, task, findings, answer, runID, sessionID)
	if final != "" {
		result.Summary = final
	}
	result.Success = verified
	return result, nil
}

// generateSubPlan asks the classifier provider for 2-4 research subtasks,
// falling back to a single subtask covering the whole task verbatim if the
// provider fails or the response doesn't parse (§4.11 still requires
// forward progress even when planning itself degrades).
func (o *Orchestrator) generateSubPlan(ctx context.Context, task agent.Task) []string {
	fallback := []string{task.Text}
	prov := o.cfg.Providers.Get(agent.TierMedium)
	if prov == nil {
		return fallback
	}
	prompt := fmt.Sprintf(
		"Break this research task into 2 to 4 concrete, independently-runnable "+
			"subtasks. Respond with JSON: {\"subtasks\": [\"...\", ...]}.\nTask: %s", task.Text)
	resp, err := prov.Complete(ctx, prompt, llmprovider.CompleteOptions{MaxTokens: 400})
	if err != nil {
		return fallback
	}
	var parsed subPlan
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err != nil || len(parsed.Subtasks) == 0 {
		return fallback
	}
	if len(parsed.Subtasks) > 4 {
		parsed.Subtasks = parsed.Subtasks[:4]
	}
	return parsed.Subtasks
}

// earlyStopConfident asks whether accumulated findings already answer task
// with confidence >= earlyStopConfidence (§4.11 step 3). A provider failure
// never stops early - it defers to the remaining planned subtasks.
func (o *Orchestrator) earlyStopConfident(ctx context.Context, task agent.Task, findings []researchFinding) bool {
	prov := o.cfg.Providers.Get(agent.TierSmall)
	if prov == nil {
		return false
	}
	prompt := fmt.Sprintf(
		"Task: %s\nFindings so far:\n%s\nOn a scale of 0 to 1, how confident are you "+
			"that these findings already answer the task? Respond with only the number.",
		task.Text, renderFindings(findings))
	resp, err := prov.Complete(ctx, prompt, llmprovider.CompleteOptions{MaxTokens: 5})
	if err != nil {
		return false
	}
	var confidence float64
	if _, err := fmt.Sscanf(strings.TrimSpace(resp.Content), "%f", &confidence); err != nil {
		return false
	}
	return confidence >= earlyStopConfidence
}

// synthesize asks the large-tier provider for a final answer from
// findings, optionally steered by a do-not-repeat list of unverified
// mentions and a low-confidence guidance block (§4.12's remediation
// branches (b) and (c)).
func (o *Orchestrator) synthesize(ctx context.Context, task agent.Task, findings []researchFinding, doNotRepeat []string, guidance []string) string {
	o.emit("", stream.EventSynthesisStart, map[string]any{"task": task.Text})
	prov := o.cfg.Providers.Get(agent.TierLarge)
	if prov == nil {
		return fallbackSynthesis(findings)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nFindings:\n%s\n", task.Text, renderFindings(findings))
	if len(doNotRepeat) > 0 {
		fmt.Fprintf(&b, "\nDo not repeat these unverified claims:\n- %s\n", strings.Join(doNotRepeat, "\n- "))
	}
	if len(guidance) > 0 {
		fmt.Fprintf(&b, "\nAddress these gaps before answering:\n- %s\n", strings.Join(guidance, "\n- "))
	}
	b.WriteString("\nWrite a final answer synthesizing these findings.")
	resp, err := prov.Complete(ctx, b.String(), llmprovider.CompleteOptions{MaxTokens: 1000})
	o.emit("", stream.EventSynthesisComplete, map[string]any{"degraded": err != nil})
	if err != nil {
		return fallbackSynthesis(findings)
	}
	return resp.Content
}

func fallbackSynthesis(findings []researchFinding) string {
	return "Synthesis unavailable; raw findings follow:\n" + renderFindings(findings)
}

func renderFindings(findings []researchFinding) string {
	var b strings.Builder
	for _, f := range findings {
		status := "ok"
		if !f.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", status, f.Subtask, f.Summary)
	}
	return b.String()
}

func findingsAsHistory(findings []researchFinding) []model.Message {
	if len(findings) == 0 {
		return nil
	}
	return []model.Message{{Role: model.RoleUser, Text: "Findings from prior subtasks:\n" + renderFindings(findings)}}
}

// extractJSON returns the substring of s from its first '{' to its last
// '}', tolerating an LLM response that wraps JSON in prose or a code fence.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "{}"
	}
	return s[start : end+1]
}

func (o *Orchestrator) emit(sessionID string, t stream.EventType, data any) {
	if o.cfg.Bus == nil {
		return
	}
	_ = o.cfg.Bus.Publish(stream.NewBase(t, sessionID, data))
}
