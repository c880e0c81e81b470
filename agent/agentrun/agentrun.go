// Package agentrun implements the Agent (§4.8): the binding of one
// (task, tier, registry, config) to an execution loop invocation, plus the
// tier-escalation wrapper (§4.10) that sits one layer above execloop.Loop
// and reruns it at successively higher tiers. A fresh execloop.Loop is
// constructed for every tier attempt; Agent itself carries the state that
// must survive across attempts - conversation history, the side-channel
// queues, and the chosen intent.
package agentrun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentloop/core/agent"
	"github.com/agentloop/core/agent/budget"
	"github.com/agentloop/core/agent/execloop"
	"github.com/agentloop/core/agent/llmprovider"
	"github.com/agentloop/core/agent/loopdetect"
	"github.com/agentloop/core/agent/model"
	"github.com/agentloop/core/agent/session"
	"github.com/agentloop/core/agent/stream"
	"github.com/agentloop/core/agent/telemetry"
	"github.com/agentloop/core/agent/tier"
)

// Memory is the mid-term archive-memory collaborator an Agent persists to
// best-effort on finalize (§4.8, §6: "persistent memory stores are
// referenced only through their interfaces"). A nil Memory disables
// persistence entirely.
type Memory interface {
	Persist(ctx context.Context, entry MemoryEntry) error
}

// MemoryEntry is one run's worth of mid-term memory content.
type MemoryEntry struct {
	SessionID string
	RunID     string
	Task      string
	Summary   string
	Success   bool
	Tier      agent.Tier
	EndedAt   time.Time
}

// Providers maps tier to the LLMProvider collaborator that serves it,
// letting one deployment route small/medium calls to a cheaper model and
// large/validation calls to a stronger one (e.g. anthropic/openai
// tier-routing).
type Providers map[agent.Tier]llmprovider.Provider

// Get returns the provider configured for tier t, falling back to the
// nearest higher configured tier, then to any configured provider, so a
// partially-populated map degrades gracefully rather than leaving a nil
// Provider on the execloop.Config it feeds.
func (p Providers) Get(t agent.Tier) llmprovider.Provider {
	if prov, ok := p[t]; ok {
		return prov
	}
	// Fall back to the nearest configured tier above t, then to
	// whatever is configured, rather than leaving the loop with a nil
	// Provider - a misconfigured tier map should degrade, not panic.
	for cur := t; ; {
		if prov, ok := p[cur]; ok {
			return prov
		}
		next, ok := cur.Next()
		if !ok {
			break
		}
		cur = next
	}
	for _, prov := range p {
		return prov
	}
	return nil
}

// Config bundles the collaborators and policy an Agent is constructed
// from. Every field the execution loop itself needs is threaded through
// unchanged; Config adds only what's needed to drive tier escalation and
// side channels across multiple execloop.Loop attempts.
type Config struct {
	Providers Providers
	Registry   execloop.ToolRegistry
	Bus        *stream.Bus
	Store      *session.Store
	Summarizer session.Summarizer
	Memory     Memory

	MaxIterations       int
	TaskBudget          int
	TokenPolicy         budget.TokenPolicy
	LoopStore           loopdetect.SignatureStore
	StuckThreshold      int
	LoopWindow          int
	NoResultConsecutive int
	ReflectEvery        int
	SynthesisTimeout    time.Duration

	SmartTiering     bool
	EnableEscalation bool
	StartTier        agent.Tier

	Telemetry execloop.Telemetry
}

// Agent binds one task to a conversation: it owns the intent inference,
// the side-channel queues, and the tier-escalation loop around execloop.
type Agent struct {
	cfg  Config
	task agent.Task

	sessionID     string
	runID         string
	id            string
	parentAgentID string

	selector *tier.Selector

	mu           sync.Mutex
	history      []model.Message
	pendingCtx   []model.Message
	activeLoop   *execloop.Loop
	currentTier  agent.Tier
	intent       agent.Intent
	startedAt    time.Time
}

// New constructs an Agent for task within sessionID. runID and id are
// minted with agent.NewRunID/agent.NewAgentID when empty, the normal case
// for a root agent; spawnAgent supplies both explicitly for a child.
func New(cfg Config, task agent.Task, sessionID, runID, id string, history []model.Message) *Agent {
	if runID == "" {
		runID = agent.NewRunID()
	}
	if id == "" {
		id = agent.NewAgentID()
	}
	return &Agent{
		cfg:         cfg,
		task:        task,
		sessionID:   sessionID,
		runID:       runID,
		id:          id,
		selector:    tier.New(tier.Policy{SmartTiering: cfg.SmartTiering}),
		history:     append([]model.Message(nil), history...),
		currentTier: cfg.StartTier,
	}
}

// TaskText returns the natural-language text of the task this Agent is
// bound to, used by the orchestrator to label this agent when routing a
// correction or picking question/answer targets.
func (a *Agent) TaskText() string {
	return a.task.Text
}

// InjectUserContext appends msg to the next LLM call's history (§4.8's
// injectUserContext side channel). Safe to call concurrently with Run: if
// a loop attempt is in flight the message is forwarded to it directly,
// otherwise it is queued for the next attempt's construction.
func (a *Agent) InjectUserContext(msg model.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeLoop != nil {
		a.activeLoop.InjectUserContext(msg)
		return
	}
	a.pendingCtx = append(a.pendingCtx, msg)
}

// SpawnRequest describes a child agent to spawn (§4.8's spawnAgent).
type SpawnRequest struct {
	Task      agent.Task
	History   []model.Message
	ToolNames []string
}

// SpawnAgent creates a child Agent sharing this Agent's registry, bus, and
// store, emitting subtask:start/end with a synthetic subtask id around its
// run. The child's events carry ParentAgentID, so the turn assembler's
// identity rule (§4.13) ignores them at turn level while the session store
// still persists them individually.
func (a *Agent) SpawnAgent(ctx context.Context, req SpawnRequest) (*agent.TaskResult, error) {
	subtaskID := agent.NewSubtaskID()
	a.emit(stream.EventSubtaskStart, map[string]any{"subtaskId": subtaskID, "task": req.Task.Text})

	child := New(a.cfg, req.Task, a.sessionID, a.runID, agent.NewAgentID(), req.History)
	child.parentAgentID = a.id

	result, err := child.Run(ctx, req.ToolNames)
	a.emit(stream.EventSubtaskEnd, map[string]any{"subtaskId": subtaskID, "success": result != nil && result.Success})
	return result, err
}

// Run infers intent (once), drives the tier-escalation wrapper around
// execloop.Loop until a terminal, non-escalating outcome is reached, and
// finalizes (§4.8).
func (a *Agent) Run(ctx context.Context, toolNames []string) (*agent.TaskResult, error) {
	a.startedAt = time.Now()
	a.emit(stream.EventAgentStart, map[string]any{"task": a.task.Text, "startedAt": a.startedAt})

	if len(a.history) == 0 && a.cfg.Store != nil && a.parentAgentID == "" {
		if prior, err := a.loadPriorHistory(); err == nil {
			a.history = prior
		}
	}

	a.intent = a.inferIntent(ctx)

	result, err := a.runWithEscalation(ctx, toolNames)
	a.finalize(ctx, result)
	return result, err
}

// inferIntent runs the one-time LLM classification §4.8 requires, at the
// tier selector's cheapest decision point, falling back to IntentAnalysis
// (the most conservative choice - no assumed file mutation, no open-ended
// search) on any provider error.
func (a *Agent) inferIntent(ctx context.Context) agent.Intent {
	t := a.selector.Select(tier.DecisionIntentInference, a.currentTier, false, tier.Hints{})
	prov := a.cfg.Providers.Get(t)
	if prov == nil {
		return agent.IntentAnalysis
	}
	prompt := fmt.Sprintf(
		"Classify this task as exactly one word - action, discovery, or analysis:\n%s",
		a.task.Text,
	)
	resp, err := prov.Complete(ctx, prompt, llmprovider.CompleteOptions{MaxTokens: 5})
	if err != nil {
		return agent.IntentAnalysis
	}
	switch resp.Content {
	case string(agent.IntentAction):
		return agent.IntentAction
	case string(agent.IntentDiscovery):
		return agent.IntentDiscovery
	default:
		return agent.IntentAnalysis
	}
}

// maxTierAttempts bounds the escalation wrapper's retries even if a bug
// elsewhere ever made Tier.Next cycle; three tiers means at most three
// attempts in the documented small->medium->large ladder.
const maxTierAttempts = 8

// runWithEscalation runs the loop at a.currentTier, and on an
// *execloop.EscalateRequested or a non-success terminal outcome below the
// highest tier, advances and retries (§4.10). It returns the first
// success, or the highest tier's terminal result/error.
func (a *Agent) runWithEscalation(ctx context.Context, toolNames []string) (*agent.TaskResult, error) {
	var last *agent.TaskResult
	var lastErr error

	for attempt := 0; attempt < maxTierAttempts; attempt++ {
		loop := execloop.New(a.buildLoopConfig(), a.currentHistory())

		a.mu.Lock()
		a.activeLoop = loop
		a.mu.Unlock()

		result, err := loop.Run(ctx, toolNames)

		a.mu.Lock()
		a.activeLoop = nil
		a.pendingCtx = nil
		a.mu.Unlock()

		var escalate *execloop.EscalateRequested
		if errors.As(err, &escalate) {
			if !a.cfg.EnableEscalation {
				return result, nil
			}
			if !a.advanceTier(escalate.Reason) {
				return result, nil
			}
			last, lastErr = result, nil
			continue
		}
		if err != nil {
			return result, err
		}

		last, lastErr = result, nil
		if result.Success || !a.cfg.EnableEscalation {
			return result, nil
		}
		if !a.advanceTier(fmt.Sprintf("terminal failure at tier %s: %s", a.currentTier, result.Error)) {
			return result, nil
		}
	}
	return last, lastErr
}

// advanceTier moves a.currentTier to the next tier and emits the one
// analytics event §4.10 allows per advance, returning false when already
// at the highest tier (the caller must then accept the current result as
// terminal).
func (a *Agent) advanceTier(reason string) bool {
	next, ok := a.currentTier.Next()
	if !ok {
		return false
	}
	from := a.currentTier
	a.currentTier = next
	a.emit(stream.EventStatusChange, map[string]any{
		"event": "tier_escalation", "from": from.String(), "to": next.String(), "reason": reason,
	})
	if a.cfg.Telemetry.Metrics != nil {
		a.cfg.Telemetry.Metrics.IncCounter("agent_tier_escalations_total", 1)
	}
	return true
}

// currentHistory merges accumulated conversation history with any
// injectUserContext messages queued since the last attempt.
func (a *Agent) currentHistory() []model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pendingCtx) == 0 {
		return append([]model.Message(nil), a.history...)
	}
	out := append([]model.Message(nil), a.history...)
	return append(out, a.pendingCtx...)
}

// loadPriorHistory reads this session's completed turns and renders them
// through progressive summarization (§4.14: recent/mid-term/old tiers),
// prepending them to a fresh root agent's conversation (§4.8 "Load prior
// session state... and prepend it to the conversation"). A child agent
// (non-empty parentAgentID) never loads session history directly - its
// initial history comes from the parent's accumulated findings instead.
func (a *Agent) loadPriorHistory() ([]model.Message, error) {
	turns, err := a.cfg.Store.Turns(a.sessionID)
	if err != nil {
		return nil, err
	}
	summarized := session.ConversationHistoryWithSummarization(turns, a.cfg.Summarizer)
	out := make([]model.Message, 0, len(summarized))
	for _, h := range summarized {
		if h.Text == "" {
			continue
		}
		out = append(out, model.Message{Role: model.RoleUser, Text: fmt.Sprintf("[%s turn] %s", h.Tier, h.Text)})
	}
	return out, nil
}

func (a *Agent) buildLoopConfig() execloop.Config {
	cfg := execloop.Config{
		Provider: a.cfg.Providers.Get(a.currentTier),
		Registry: a.cfg.Registry,
		Bus:      a.cfg.Bus,

		SessionID:     a.sessionID,
		RunID:         a.runID,
		AgentID:       a.id,
		ParentAgentID: a.parentAgentID,

		MaxIterations: a.cfg.MaxIterations,
		TaskBudget:    a.cfg.TaskBudget,
		TokenPolicy:   a.cfg.TokenPolicy,
		LoopStore:     a.cfg.LoopStore,

		Intent:       a.intent,
		TierSelector: a.selector,
		CurrentTier:  a.currentTier,

		StuckThreshold:      a.cfg.StuckThreshold,
		LoopWindow:          a.cfg.LoopWindow,
		NoResultConsecutive: a.cfg.NoResultConsecutive,
		ReflectEvery:        a.cfg.ReflectEvery,
		TaskText:            a.task.Text,

		SynthesisTimeout: a.cfg.SynthesisTimeout,
		Telemetry:        a.cfg.Telemetry,
	}
	return cfg
}

// finalize runs on every path out of Run, success or failure (§4.8:
// "persist mid-term memory... errors must not break result"). It emits
// agent:end and persists memory best-effort: a failure here is logged (via
// the telemetry logger, itself optional) and never surfaces to the caller.
// It emits no KPI metrics.
func (a *Agent) finalize(ctx context.Context, result *agent.TaskResult) {
	success := result != nil && result.Success
	a.emit(stream.EventAgentEnd, map[string]any{
		"startedAt": a.startedAt, "success": success,
	})

	if a.cfg.Memory != nil && result != nil {
		entry := MemoryEntry{
			SessionID: a.sessionID, RunID: a.runID, Task: a.task.Text,
			Summary: result.Summary, Success: result.Success, Tier: result.Tier,
			EndedAt: time.Now(),
		}
		if err := a.cfg.Memory.Persist(ctx, entry); err != nil {
			a.logger().Error(ctx, "agentrun: mid-term memory persist failed", "error", err.Error())
		}
	}
}

// logger returns the configured telemetry logger, or a no-op one if none
// was configured - mirroring execloop.Telemetry.resolve's zero-value
// defaulting without needing access to its unexported method.
func (a *Agent) logger() telemetry.Logger {
	if a.cfg.Telemetry.Logger != nil {
		return a.cfg.Telemetry.Logger
	}
	return telemetry.NewNoopLogger()
}

func (a *Agent) emit(t stream.EventType, data any) {
	if a.cfg.Bus == nil {
		return
	}
	evt := stream.NewBase(t, a.sessionID, data).WithRun(a.runID, a.id)
	if a.parentAgentID != "" {
		evt = evt.WithParentAgent(a.parentAgentID)
	}
	_ = a.cfg.Bus.Publish(evt)
}
