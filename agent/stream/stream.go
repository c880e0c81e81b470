// Package stream implements the event bus (§2): the fan-out point through
// which every runtime component - orchestrator, agent, execution loop, tool
// registry - reports typed, append-only events to subscribers (tracer,
// analytics, the turn assembler, a UI callback). The Base-embedding pattern
// (private fields behind getter methods satisfying a common Event
// interface) follows runtime/agent/stream/stream.go.
package stream

import "time"

// EventType enumerates the event taxonomy (§7, non-exhaustive list
// reproduced verbatim).
type EventType string

const (
	EventAgentStart    EventType = "agent:start"
	EventAgentEnd      EventType = "agent:end"
	EventAgentError    EventType = "agent:error"

	EventIterationStart EventType = "iteration:start"
	EventIterationEnd   EventType = "iteration:end"

	EventLLMStart EventType = "llm:start"
	EventLLMEnd   EventType = "llm:end"

	EventToolStart EventType = "tool:start"
	EventToolEnd   EventType = "tool:end"
	EventToolError EventType = "tool:error"

	EventStatusChange EventType = "status:change"

	EventSubtaskStart EventType = "subtask:start"
	EventSubtaskEnd   EventType = "subtask:end"

	EventOrchestratorStart  EventType = "orchestrator:start"
	EventOrchestratorEnd    EventType = "orchestrator:end"
	EventOrchestratorAnswer EventType = "orchestrator:answer"
	EventOrchestratorPlan   EventType = "orchestrator:plan"

	EventSynthesisForced   EventType = "synthesis:forced"
	EventSynthesisStart    EventType = "synthesis:start"
	EventSynthesisComplete EventType = "synthesis:complete"

	EventVerificationStart    EventType = "verification:start"
	EventVerificationComplete EventType = "verification:complete"

	EventProgressUpdate EventType = "progress:update"

	EventReflectionNote EventType = "reflection:note"
)

// Event is the common interface every emitted event satisfies (§2: "Tagged
// record with fields: type, timestamp, sessionId, optional runId, optional
// agentId, optional parentAgentId, optional toolCallId, data").
type Event interface {
	Type() EventType
	Timestamp() time.Time
	SessionID() string
	RunID() string
	AgentID() string
	ParentAgentID() string
	ToolCallID() string
	// SessionSeq is the per-run monotonically increasing sequence number
	// assigned when the event is appended to a session (§3); zero until
	// assigned.
	SessionSeq() int64
	Data() any
}

// Base provides the common Event fields; concrete event types embed it.
type Base struct {
	typ           EventType
	ts            time.Time
	sessionID     string
	runID         string
	agentID       string
	parentAgentID string
	toolCallID    string
	sessionSeq    int64
	data          any
}

// NewBase constructs a Base event carrying the given type and payload. Use
// the With* setters to fill in the optional correlation fields before
// publishing.
func NewBase(t EventType, sessionID string, data any) Base {
	return Base{typ: t, ts: time.Now(), sessionID: sessionID, data: data}
}

func (b Base) Type() EventType        { return b.typ }
func (b Base) Timestamp() time.Time   { return b.ts }
func (b Base) SessionID() string      { return b.sessionID }
func (b Base) RunID() string          { return b.runID }
func (b Base) AgentID() string        { return b.agentID }
func (b Base) ParentAgentID() string  { return b.parentAgentID }
func (b Base) ToolCallID() string     { return b.toolCallID }
func (b Base) SessionSeq() int64      { return b.sessionSeq }
func (b Base) Data() any              { return b.data }

// WithRun returns a copy of b with runID and agentID set.
func (b Base) WithRun(runID, agentID string) Base {
	b.runID, b.agentID = runID, agentID
	return b
}

// WithParentAgent returns a copy of b with parentAgentID set, for child-run
// events.
func (b Base) WithParentAgent(parentAgentID string) Base {
	b.parentAgentID = parentAgentID
	return b
}

// WithToolCallID returns a copy of b with toolCallID set.
func (b Base) WithToolCallID(id string) Base {
	b.toolCallID = id
	return b
}

// WithSessionSeq returns a copy of b with sessionSeq set; called by the
// session store when it appends the event (§3).
func (b Base) WithSessionSeq(seq int64) Base {
	b.sessionSeq = seq
	return b
}

// Sink delivers events to one subscriber (tracer, analytics exporter, UI
// callback, or the turn assembler). Implementations must be safe for
// concurrent Send calls: the bus may fan out from multiple emitting
// goroutines (parallel subtasks in research/complex orchestration, §4.11).
type Sink interface {
	Send(event Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(event Event) error

func (f SinkFunc) Send(event Event) error { return f(event) }

// Bus fans an event out to every registered Sink. A Sink returning an error
// does not stop delivery to the others; the first error is returned to the
// caller so it can decide whether to log, retry, or escalate. Stream
// delivery stays best-effort per subscriber while still surfacing failures.
type Bus struct {
	sinks []Sink
}

// NewBus returns a Bus with the given initial sinks.
func NewBus(sinks ...Sink) *Bus {
	return &Bus{sinks: append([]Sink(nil), sinks...)}
}

// Subscribe adds sink to the bus.
func (b *Bus) Subscribe(sink Sink) {
	b.sinks = append(b.sinks, sink)
}

// Publish sends event to every subscribed sink, returning the first error
// encountered (if any) after attempting delivery to all of them.
func (b *Bus) Publish(event Event) error {
	var firstErr error
	for _, s := range b.sinks {
		if err := s.Send(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
