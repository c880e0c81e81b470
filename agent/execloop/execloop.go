// Package execloop implements the execution loop (§4.7), the central
// per-iteration state machine: it drives LLM calls and tool execution,
// consults the budget controller, progress tracker, search-signal tracker,
// loop detector, and tier selector after each iteration, and maps whatever
// terminal outcome falls out to a agent.TaskResult. Forced synthesis
// (§4.9) is implemented here since it is itself just one more way an
// iteration can terminate.
package execloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentloop/core/agent"
	"github.com/agentloop/core/agent/budget"
	"github.com/agentloop/core/agent/llmprovider"
	"github.com/agentloop/core/agent/loopdetect"
	"github.com/agentloop/core/agent/model"
	"github.com/agentloop/core/agent/progress"
	"github.com/agentloop/core/agent/quality"
	"github.com/agentloop/core/agent/reflection"
	"github.com/agentloop/core/agent/searchsignal"
	"github.com/agentloop/core/agent/stream"
	"github.com/agentloop/core/agent/telemetry"
	"github.com/agentloop/core/agent/tier"
)

// ReportToolName is the synthetic tool name an LLM calls to report a
// finished answer directly, short-circuiting the loop with outcome
// report_complete (§4.7).
const ReportToolName = "report_complete"

// ToolRegistry is the collaborator interface the loop needs from a tool
// registry - narrowed from toolregistry.Registry's full surface so this
// package doesn't depend on its implementation details (schema compilation,
// locking). agentrun.RegistryAdapter wraps a *toolregistry.Registry to
// satisfy this interface.
type ToolRegistry interface {
	GetDefinitions(names []string) []ToolDefinition
	Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error)
	BroadExplorationNames() []string
}

// ToolDefinition mirrors toolregistry.Definition's shape, exported so
// adapters outside this package can construct and return it from
// GetDefinitions without this package importing toolregistry directly.
type ToolDefinition struct {
	Name             string
	Description      string
	InputSchema      map[string]any
	BroadExploration bool
}

// outcomeKind tags which terminal branch §4.7's state machine took.
type outcomeKind string

const (
	outcomeNoToolCalls    outcomeKind = "no_tool_calls"
	outcomeReportComplete outcomeKind = "report_complete"
	outcomeLoopDetected   outcomeKind = "loop_detected"
	outcomeEscalate       outcomeKind = "escalate"
	outcomeMaxIterations  outcomeKind = "max_iterations"
	outcomeHardTokenLimit outcomeKind = "hard_token_limit"
	outcomeAbortSignal    outcomeKind = "abort_signal"
)

type outcome struct {
	kind          outcomeKind
	answer        string
	reason        string
	synthesized   bool
	lastIteration int
}

// Config bundles every collaborator and policy setting one Loop run needs.
type Config struct {
	Provider llmprovider.Provider
	Registry ToolRegistry
	Bus      *stream.Bus

	SessionID string
	RunID     string
	AgentID   string
	// ParentAgentID is set only for a child agent spawned by the
	// orchestrator's spawnAgent (§4.8); turn-level consumers ignore events
	// carrying it (§4.13's identity rule) while the session store still
	// persists them.
	ParentAgentID string

	MaxIterations int
	TaskBudget    int // 0 = unset, falls back to MaxIterations (§4.1)
	TokenPolicy   budget.TokenPolicy

	Intent       agent.Intent
	TierSelector *tier.Selector
	CurrentTier  agent.Tier

	StuckThreshold      int // default 3
	LoopWindow          int // default 3
	NoResultConsecutive int // default 3
	// LoopStore mirrors each recorded tool-call signature to an external
	// store (e.g. loopdetect.RedisSignatureStore) so loop history survives a
	// process restart and is visible across a scaled-out fleet; detection
	// itself always uses the in-process Detector, so a LoopStore outage
	// never changes Run's outcome. Optional; nil disables mirroring.
	LoopStore loopdetect.SignatureStore
	// ReflectEvery is the iteration cadence the reflection engine runs at
	// (§4: "every reflectEvery iterations"), default 4. A stuck run reflects
	// every iteration regardless of cadence.
	ReflectEvery int
	// TaskText seeds the reflection prompt; optional, purely descriptive.
	TaskText string

	SynthesisTimeout time.Duration // default 90s, bounded [15s,300s] by Resolve

	// Telemetry is optional; a zero value resolves to no-ops so tests and
	// callers that don't care about observability can omit it entirely.
	Telemetry Telemetry
}

// Telemetry bundles the observability collaborators the loop opens one
// span per iteration against and records counters through
// (agent_iterations_total, agent_tool_calls_total, agent_tokens_used_total,
// agent_loop_detected_total). Any nil field is treated as a no-op.
type Telemetry struct {
	Logger  telemetry.Logger
	Tracer  telemetry.Tracer
	Metrics telemetry.Metrics
}

func (t Telemetry) resolve() Telemetry {
	if t.Logger == nil {
		t.Logger = telemetry.NewNoopLogger()
	}
	if t.Tracer == nil {
		t.Tracer = telemetry.NewNoopTracer()
	}
	if t.Metrics == nil {
		t.Metrics = telemetry.NewNoopMetrics()
	}
	return t
}

// Resolve fills in zero-valued fields with their documented defaults.
func (c Config) Resolve() Config {
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = 3
	}
	if c.LoopWindow <= 0 {
		c.LoopWindow = 3
	}
	if c.NoResultConsecutive <= 0 {
		c.NoResultConsecutive = 3
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = 90 * time.Second
	}
	if c.SynthesisTimeout < 15*time.Second {
		c.SynthesisTimeout = 15 * time.Second
	}
	if c.SynthesisTimeout > 300*time.Second {
		c.SynthesisTimeout = 300 * time.Second
	}
	if c.ReflectEvery <= 0 {
		c.ReflectEvery = 4
	}
	c.Telemetry = c.Telemetry.resolve()
	return c
}

// Loop drives one Agent's execution loop invocation (§4.7). It is built
// fresh for each (task, tier) attempt; tier escalation (§4.10) constructs a
// new Loop per tier and is implemented one layer up, in agentrun.
type Loop struct {
	cfg Config

	budget   *budget.IterationBudget
	progress *progress.Tracker
	search   *searchsignal.Tracker
	loops    *loopdetect.Detector
	files    *agent.FileSet
	reflect  *reflection.Engine

	history    []model.Message
	tokensUsed int
	nudgeSent  bool
	lastFiles  *agent.FileSet // snapshot of l.files as of the prior iteration
}

// classifierAdapter adapts llmprovider.Provider to searchsignal.Classifier
// using a text classification call on the loop's own provider.
type classifierAdapter struct {
	provider llmprovider.Provider
}

func (c classifierAdapter) Classify(ctx context.Context, outputs []string) (searchsignal.Signal, error) {
	if c.provider == nil {
		return searchsignal.SignalNone, errors.New("execloop: no classifier provider configured")
	}
	prompt := "Classify the evidentiary strength of these tool outputs as exactly one word - none, partial, or strong:\n"
	for _, o := range outputs {
		prompt += "- " + o + "\n"
	}
	resp, err := c.provider.Complete(ctx, prompt, llmprovider.CompleteOptions{MaxTokens: 5})
	if err != nil {
		return searchsignal.SignalNone, err
	}
	switch resp.Content {
	case "strong":
		return searchsignal.SignalStrong, nil
	case "partial":
		return searchsignal.SignalPartial, nil
	default:
		return searchsignal.SignalNone, nil
	}
}

// New constructs a Loop ready to Run, seeded with history (prior
// conversation the agent should continue from, after progressive
// summarization has already been applied by the caller).
func New(cfg Config, history []model.Message) *Loop {
	cfg = cfg.Resolve()
	return &Loop{
		cfg:      cfg,
		budget:   budget.NewIterationBudget(cfg.TaskBudget, cfg.MaxIterations),
		progress: progress.New(),
		search:   searchsignal.New(classifierAdapter{provider: cfg.Provider}, cfg.Intent),
		loops:    loopdetect.NewWithWindow(cfg.LoopWindow),
		files:    agent.NewFileSet(),
		reflect:  reflection.New(cfg.Provider),
		history:  append([]model.Message(nil), history...),
	}
}

// llmResponse is callLLM's internal result shape: the raw provider response
// plus whether this call pushed tokensUsed past the hard token limit, which
// Run must check before processing any tool calls the response carried.
type llmResponse struct {
	content        string
	toolCalls      []llmprovider.ToolCallOut
	hardTokenLimit bool
}

// softLimitNudge is the one-shot convergence nudge injected when the token
// budget's soft limit is first crossed (§4.1).
const softLimitNudge = "Token budget is approaching its limit. Converge toward a final answer; avoid opening new broad exploration."

// callLLM issues one chat-with-tools call for the current history, applying
// the token-budget soft-limit response (§4.1) first: stripping broad
// exploration tools when evidence is already strong on a non-action task,
// and injecting the one-shot nudge message.
func (l *Loop) callLLM(ctx context.Context, toolNames []string) (llmResponse, error) {
	effectiveNames := toolNames
	if l.cfg.TokenPolicy.SoftLimitReached(l.tokensUsed) {
		if l.cfg.TokenPolicy.RestrictBroadExplorationAtSoftLimit && l.evidenceStrongEnoughNonAction() {
			effectiveNames = removeNames(toolNames, l.cfg.Registry.BroadExplorationNames())
		}
		if !l.nudgeSent {
			l.history = append(l.history, model.Message{Role: model.RoleSystem, Text: softLimitNudge})
			l.nudgeSent = true
		}
	}

	defs := l.cfg.Registry.GetDefinitions(effectiveNames)
	tools := make([]llmprovider.ToolSpec, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, llmprovider.ToolSpec{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}

	l.emit(stream.EventLLMStart, map[string]any{"iteration": len(l.history), "toolCount": len(tools)})
	resp, err := l.cfg.Provider.ChatWithTools(ctx, l.history, llmprovider.ChatOptions{Tools: tools, Temperature: 0.2})
	if err != nil {
		return llmResponse{}, fmt.Errorf("iteration_error: %w", err)
	}
	l.tokensUsed += resp.Usage.Total()
	l.cfg.Telemetry.Metrics.IncCounter("agent_tokens_used_total", float64(resp.Usage.Total()))

	assistantMsg := model.Message{Role: model.RoleAssistant, Text: resp.Content}
	for _, c := range resp.ToolCalls {
		assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, model.ToolCall{ID: c.ID, Name: c.Name, Input: c.Input})
	}
	l.history = append(l.history, assistantMsg)
	l.emit(stream.EventLLMEnd, map[string]any{"content": resp.Content, "hasToolCalls": len(resp.ToolCalls) > 0})

	hard := l.cfg.TokenPolicy.HardStop && l.cfg.TokenPolicy.HardLimitReached(l.tokensUsed)
	return llmResponse{content: resp.Content, toolCalls: resp.ToolCalls, hardTokenLimit: hard}, nil
}

// evidenceStrongEnoughNonAction reports whether the run's accumulated
// evidence score already clears a reasonable bar and the task is not an
// action task, the condition under which the soft-limit response removes
// broad-exploration tools rather than letting the model keep searching
// (§4.1).
func (l *Loop) evidenceStrongEnoughNonAction() bool {
	if l.cfg.Intent == agent.IntentAction {
		return false
	}
	score := l.progress.EvidenceScore(len(l.files.Read()), len(l.files.Modified()), len(l.files.Created()))
	return score >= 0.5
}

func removeNames(names []string, remove []string) []string {
	if len(remove) == 0 {
		return names
	}
	drop := make(map[string]struct{}, len(remove))
	for _, n := range remove {
		drop[n] = struct{}{}
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := drop[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

// executeTools runs each tool call in order, recording ordering guarantees
// (§4.7: "tool calls execute sequentially"), appending every result to
// conversation history, and feeding each call's signature to the loop
// detector. It returns early - skipping any remaining calls in this
// iteration's batch - the moment the detector fires, since no further
// iterations will be attempted once a loop is detected.
func (l *Loop) executeTools(ctx context.Context, calls []llmprovider.ToolCallOut) ([]agent.ToolResult, bool) {
	results := make([]agent.ToolResult, 0, len(calls))
	for _, c := range calls {
		if ctx.Err() != nil {
			break
		}
		call := agent.ToolCall{ID: c.ID, Name: c.Name, Input: c.Input}
		l.emitToolEvent(stream.EventToolStart, call.ID, map[string]any{"name": call.Name, "input": call.Input})

		res, err := l.cfg.Registry.Execute(ctx, call)
		if err != nil {
			res = agent.ToolResult{ID: call.ID, Success: false, Error: err.Error()}
		}
		res.ID = call.ID
		results = append(results, res)
		l.recordFileSet(res)

		if res.Success {
			l.emitToolEvent(stream.EventToolEnd, call.ID, map[string]any{"name": call.Name, "output": res.Output, "metadata": res.Metadata})
		} else {
			l.emitToolEvent(stream.EventToolError, call.ID, map[string]any{"name": call.Name, "error": res.Error})
		}
		l.history = append(l.history, model.Message{
			Role: model.RoleTool,
			ToolResults: []model.ToolResultRef{{
				ToolCallID: call.ID,
				Output:     res.Output,
				IsError:    !res.Success,
			}},
		})

		sig := loopdetect.NewSignature(call.Name, call.Input)
		if l.cfg.LoopStore != nil {
			_, _ = l.cfg.LoopStore.Push(ctx, l.cfg.RunID, sig, l.cfg.LoopWindow)
		}
		if l.loops.Record(sig) {
			return results, true
		}
	}
	return results, false
}

// recordFileSet folds a tool result's declared file effects into the run's
// FileSet (§3). Tools report file effects via well-known metadata keys
// rather than the loop parsing tool-specific output formats: "filesRead",
// "filesModified", "filesCreated" each as a []string (or []any of strings,
// the shape JSON round-tripping through a tool boundary tends to produce).
func (l *Loop) recordFileSet(res agent.ToolResult) {
	if res.Metadata == nil {
		return
	}
	for _, p := range stringSliceMeta(res.Metadata["filesRead"]) {
		l.files.MarkRead(p)
	}
	for _, p := range stringSliceMeta(res.Metadata["filesModified"]) {
		l.files.MarkModified(p)
	}
	for _, p := range stringSliceMeta(res.Metadata["filesCreated"]) {
		l.files.MarkCreated(p)
	}
}

func stringSliceMeta(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, e := range vs {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// synthesisHeartbeatInterval is the fixed cadence forced synthesis emits
// status events at while waiting on the provider (§4.9).
const synthesisHeartbeatInterval = 10 * time.Second

// enterForcedSynthesis runs the forced-synthesis protocol (§4.9): append a
// no-more-tools prompt, issue one tool-disabled LLM call under a scoped
// timeout, emit heartbeats while waiting, and on success or timeout alike
// produce a terminal outcome of the given kind carrying an answer - forced
// synthesis never fails the run outright; a provider error or timeout falls
// back to a deterministic summary instead (§4.9 step 5).
func (l *Loop) enterForcedSynthesis(ctx context.Context, reason string, kind outcomeKind, iteration int) outcome {
	l.emit(stream.EventSynthesisForced, map[string]any{"reason": reason})

	synCtx, cancel := context.WithTimeout(ctx, l.cfg.SynthesisTimeout)
	defer cancel()

	done := make(chan struct{})
	go l.synthesisHeartbeat(synCtx, done)

	l.history = append(l.history, model.Message{
		Role: model.RoleSystem,
		Text: "Produce your final answer now, in plain text. Do not call any tools.",
	})

	type chatResult struct {
		resp llmprovider.ChatResponse
		err  error
	}
	ch := make(chan chatResult, 1)
	go func() {
		resp, err := l.cfg.Provider.ChatWithTools(synCtx, l.history, llmprovider.ChatOptions{ToolChoice: llmprovider.ToolChoiceNone, Temperature: 0.2})
		ch <- chatResult{resp, err}
	}()

	select {
	case r := <-ch:
		close(done)
		if r.err != nil {
			return l.fallbackSynthesis(reason, kind, iteration)
		}
		l.tokensUsed += r.resp.Usage.Total()
		l.emit(stream.EventSynthesisComplete, map[string]any{"answer": r.resp.Content})
		return outcome{kind: kind, answer: r.resp.Content, synthesized: true, lastIteration: iteration}
	case <-synCtx.Done():
		close(done)
		return l.fallbackSynthesis(reason, kind, iteration)
	}
}

func (l *Loop) synthesisHeartbeat(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(synthesisHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.emit(stream.EventStatusChange, map[string]any{"status": "executing", "phase": "synthesis"})
		}
	}
}

// fallbackSynthesis builds the deterministic summary §4.9 step 5 requires
// when the synthesis call errors or times out: never an error, always a
// usable (if terse) answer listing what the run actually touched.
func (l *Loop) fallbackSynthesis(reason string, kind outcomeKind, iteration int) outcome {
	summary := fmt.Sprintf(
		"Reached %s before a synthesized answer arrived. Touched %d file(s) read, %d modified, %d created over %d iteration(s).",
		reason, len(l.files.Read()), len(l.files.Modified()), len(l.files.Created()), iteration,
	)
	return outcome{kind: kind, answer: summary, synthesized: true, lastIteration: iteration}
}

// EscalateRequested is returned by Run when the loop concluded that the
// tier should be bumped (§4.10); Reason is persisted to analytics by the
// caller.
type EscalateRequested struct {
	Reason string
}

func (e *EscalateRequested) Error() string { return "execloop: escalation requested: " + e.Reason }

// Run drives the loop to a terminal outcome and returns the corresponding
// TaskResult. A non-nil *EscalateRequested error (checked with
// errors.As) signals the caller should retry at the next tier rather than
// treat this as a final result.
func (l *Loop) Run(ctx context.Context, toolNames []string) (*agent.TaskResult, error) {
	var last outcome
	i := 1
	for ; i <= l.budget.Current(); i++ {
		l.emit(stream.EventIterationStart, map[string]any{"iteration": i})
		iterCtx, span := l.cfg.Telemetry.Tracer.Start(ctx, "agent.iteration")
		l.cfg.Telemetry.Metrics.IncCounter("agent_iterations_total", 1)

		if iterCtx.Err() != nil {
			span.End()
			last = outcome{kind: outcomeAbortSignal, lastIteration: i - 1}
			break
		}

		isLastIteration := i == l.budget.Current()
		resp, err := l.callLLM(ctx, toolNames)
		if err != nil {
			// LLM failure is a typed result, not a propagated error (§7):
			// the iteration never completed, so Iterations reflects the
			// last fully-completed one.
			return l.buildResult(outcome{kind: "iteration_error", reason: err.Error(), lastIteration: i - 1})
		}

		if resp.hardTokenLimit {
			if l.cfg.TokenPolicy.ForceSynthesisOnHardLimit {
				last = l.enterForcedSynthesis(ctx, "token_budget_hard", outcomeHardTokenLimit, i)
			} else {
				last = outcome{kind: outcomeHardTokenLimit, lastIteration: i}
			}
			span.End()
			break
		}

		if len(resp.toolCalls) == 0 {
			last = outcome{kind: outcomeNoToolCalls, answer: resp.content, lastIteration: i}
			span.End()
			break
		}

		if reportAnswer, ok := findReport(resp.toolCalls); ok {
			last = outcome{kind: outcomeReportComplete, answer: reportAnswer, lastIteration: i}
			span.End()
			break
		}

		if isLastIteration {
			last = l.enterForcedSynthesis(ctx, "last_iteration_tool_calls", outcomeMaxIterations, i)
			span.End()
			break
		}

		results, loopDetected := l.executeTools(ctx, resp.toolCalls)
		l.cfg.Telemetry.Metrics.IncCounter("agent_tool_calls_total", float64(len(resp.toolCalls)))
		if loopDetected {
			last = outcome{kind: outcomeLoopDetected, lastIteration: i}
			l.cfg.Telemetry.Metrics.IncCounter("agent_loop_detected_total", 1)
			span.End()
			break
		}

		outputs := outputStrings(results)
		sig := l.search.Observe(ctx, outputs)
		newFile := l.files.HasNewSince(l.lastFiles)
		l.lastFiles = l.files.Snapshot()
		progressed := l.progress.Observe(i, progress.Input{
			ToolName:                 resp.toolCalls[len(resp.toolCalls)-1].Name,
			OutputSize:               totalOutputSize(results),
			EvidenceDelta:            evidenceDelta(results),
			FailedToolsThisIteration: countFailed(results),
			SearchSignalHits:         l.search.Hits(),
		}, newFile)
		_ = sig

		stuck := l.progress.Stuck(l.cfg.StuckThreshold)
		if l.cfg.TierSelector != nil {
			decision := l.cfg.TierSelector.EvaluateEscalationNeed(tier.EscalationInput{
				CurrentTier:          l.cfg.CurrentTier,
				Stuck:                stuck,
				RemainingBudgetRatio: l.remainingBudgetRatio(i),
				ToolErrorRate:        l.toolErrorRate(),
			})
			if decision.ShouldEscalate {
				last = outcome{kind: outcomeEscalate, reason: decision.Reason, lastIteration: i}
				span.End()
				break
			}
		}

		if stuck || i%l.cfg.ReflectEvery == 0 {
			note := l.reflect.Reflect(ctx, reflection.Input{
				TaskText:        l.cfg.TaskText,
				RecentToolCalls: lastToolNames(resp.toolCalls),
				RecentOutputs:   outputs,
				Stuck:           stuck,
				IterationsUsed:  i,
			})
			l.history = append(l.history, reflection.AsMessage(note))
			l.emit(stream.EventReflectionNote, map[string]any{
				"hypothesis": note.Hypothesis, "nextCheck": note.NextCheck, "degraded": note.Degraded, "iteration": i,
			})
		}

		if l.search.ShouldConcludeNoResultEarly(l.cfg.NoResultConsecutive) {
			last = outcome{kind: outcomeNoToolCalls, answer: "No results found after exhausting the discovery search.", lastIteration: i}
			span.End()
			break
		}

		l.budget.MaybeExtend(l.cfg.TokenPolicy.AllowIterationBudgetExtension, l.progress.IterationsSinceProgress())
		l.emit(stream.EventIterationEnd, map[string]any{"iteration": i, "progressed": progressed})
		span.End()
	}
	if last.kind == "" {
		last = outcome{kind: outcomeMaxIterations, lastIteration: i - 1}
	}

	return l.buildResult(last)
}

func lastToolNames(calls []llmprovider.ToolCallOut) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Name)
	}
	return out
}

func (l *Loop) remainingBudgetRatio(i int) float64 {
	cap := l.budget.Current()
	if cap <= 0 {
		return 0
	}
	remaining := cap - i
	if remaining < 0 {
		remaining = 0
	}
	return float64(remaining) / float64(cap)
}

func (l *Loop) toolErrorRate() float64 {
	total := l.progress.FailureCount()
	if total == 0 {
		return 0
	}
	// FailureCount is cumulative failed calls; no cumulative total call
	// count is tracked, so failures/(failures+1) serves as a bounded proxy
	// in [0,1) that grows with the failure count.
	return float64(total) / float64(total+1)
}

func (l *Loop) buildResult(o outcome) (*agent.TaskResult, error) {
	res := &agent.TaskResult{
		FilesRead:     l.files.Read(),
		FilesModified: l.files.Modified(),
		FilesCreated:  l.files.Created(),
		Iterations:    o.lastIteration,
		TokensUsed:    l.tokensUsed,
		Tier:          l.cfg.CurrentTier,
	}

	switch o.kind {
	case outcomeNoToolCalls:
		res.Success = true
		res.Summary = o.answer
		l.applyQualityGate(res)
	case outcomeReportComplete:
		res.Success = true
		res.Summary = o.answer
	case outcomeLoopDetected:
		res.Success = false
		res.Error = "loop_detected"
		res.Summary = fmt.Sprintf("Stopped after detecting a repeated tool-call loop at iteration %d.", o.lastIteration)
	case outcomeHardTokenLimit:
		if o.synthesized {
			res.Success = true
			res.Summary = o.answer
		} else {
			res.Success = false
			res.Error = "token_budget_hard"
			res.Summary = "Stopped: token budget hard limit reached with no synthesized answer."
		}
	case outcomeMaxIterations:
		if o.synthesized {
			res.Success = true
			res.Summary = o.answer
		} else {
			res.Success = false
			res.Error = "max_iterations"
			res.Summary = fmt.Sprintf("Stopped after exhausting the %d-iteration budget with no conclusive answer.", o.lastIteration)
		}
	case outcomeAbortSignal:
		res.Stopped = true
		res.Summary = fmt.Sprintf("Stopped by user after %d iteration(s).", o.lastIteration)
	case outcomeEscalate:
		return res, &EscalateRequested{Reason: o.reason}
	default:
		res.Success = false
		res.Error = o.reason
		res.Summary = fmt.Sprintf("Stopped: %s", o.reason)
	}
	return res, nil
}

func (l *Loop) applyQualityGate(res *agent.TaskResult) {
	q := quality.Score(quality.Input{
		Intent:           l.cfg.Intent,
		FilesRead:        len(res.FilesRead),
		FilesModified:    len(res.FilesModified),
		FilesCreated:     len(res.FilesCreated),
		ToolCallsTotal:   res.Iterations,
		ToolErrorCount:   l.progress.FailureCount(),
		SearchSignalHits: l.search.Hits(),
		IterationsUsed:   res.Iterations,
	}, quality.Weights{})
	res.QualityMetrics = &agent.QualityMetrics{
		Status: string(q.Status), Score: q.Score, Reasons: q.Reasons, NextChecks: q.NextChecks,
	}
	if q.Status != quality.StatusPass {
		res.Success = false
	}
}

// InjectUserContext appends msg to the conversation history ahead of the
// next LLM call (§4.8's injectUserContext side-channel).
func (l *Loop) InjectUserContext(msg model.Message) {
	l.history = append(l.history, msg)
}

func (l *Loop) emit(t stream.EventType, data any) {
	if l.cfg.Bus == nil {
		return
	}
	evt := stream.NewBase(t, l.cfg.SessionID, data).WithRun(l.cfg.RunID, l.cfg.AgentID)
	if l.cfg.ParentAgentID != "" {
		evt = evt.WithParentAgent(l.cfg.ParentAgentID)
	}
	_ = l.cfg.Bus.Publish(evt)
}

// emitToolEvent is emit plus a toolCallID, used for the tool:start/end/error
// triple so the turn assembler can match results to their pending step by
// id (§4.13).
func (l *Loop) emitToolEvent(t stream.EventType, toolCallID string, data any) {
	if l.cfg.Bus == nil {
		return
	}
	evt := stream.NewBase(t, l.cfg.SessionID, data).WithRun(l.cfg.RunID, l.cfg.AgentID).WithToolCallID(toolCallID)
	if l.cfg.ParentAgentID != "" {
		evt = evt.WithParentAgent(l.cfg.ParentAgentID)
	}
	_ = l.cfg.Bus.Publish(evt)
}

func findReport(calls []llmprovider.ToolCallOut) (string, bool) {
	for _, c := range calls {
		if c.Name == ReportToolName {
			if answer, ok := c.Input["answer"].(string); ok {
				return answer, true
			}
			return "", true
		}
	}
	return "", false
}

func outputStrings(results []agent.ToolResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Output)
	}
	return out
}

func totalOutputSize(results []agent.ToolResult) int {
	total := 0
	for _, r := range results {
		total += len(r.Output)
	}
	return total
}

func evidenceDelta(results []agent.ToolResult) int {
	delta := 0
	for _, r := range results {
		if r.Success && len(r.Output) > 0 {
			delta++
		}
	}
	return delta
}

func countFailed(results []agent.ToolResult) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}
