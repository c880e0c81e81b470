// Package turn implements the turn assembler (§4.13): it folds the raw
// event stream into per-session Turn snapshots, tolerating orphaned tool
// results and out-of-order tool:start/tool:end arrival within one turn.
package turn

import (
	"strconv"
	"time"

	"github.com/agentloop/core/agent/stream"
)

// Type distinguishes a user turn (one text step, immediately complete) from
// an assistant turn (streams steps as events arrive).
type Type string

const (
	TypeUser      Type = "user"
	TypeAssistant Type = "assistant"
)

// Status is a turn's lifecycle state.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepKind tags the kind of one Step.
type StepKind string

const (
	StepThinking StepKind = "thinking"
	StepToolUse  StepKind = "tool_use"
	StepText     StepKind = "text"
	StepError    StepKind = "error"
)

// StepStatus is a tool_use step's execution status.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusDone    StepStatus = "done"
	StepStatusError   StepStatus = "error"
)

// Step is one entry in a Turn's step list.
type Step struct {
	Kind   StepKind
	Role   string // "assistant" for text steps
	Text   string

	// tool_use fields
	ToolCallID string
	ToolName   string
	Status     StepStatus
	Input      map[string]any
	Output     string
	Error      string
	Metadata   map[string]any
}

// Turn is the derived projection described in §3.
type Turn struct {
	ID          string
	Type        Type
	Sequence    int64
	StartedAt   time.Time
	CompletedAt time.Time
	Status      Status
	Steps       []Step
	Metadata    map[string]any
}

// orphanKey identifies a buffered tool result awaiting its tool:start.
type orphanKey struct {
	turnID string
	id     string
	name   string
}

type orphanResult struct {
	status   StepStatus
	output   string
	errStr   string
	metadata map[string]any
}

// SequenceAllocator hands out fresh, session-unique turn sequence numbers
// (§4.13: "allocated via the persistent counter in §4.14"). The session
// store supplies the concrete implementation backed by turns.json's
// current max sequence.
type SequenceAllocator interface {
	NextTurnSequence(sessionID string) (int64, error)
}

// Assembler folds events into Turn snapshots, one active Turn per root
// agent (identity rule: turn-<agentId>; events with a non-null
// parentAgentId are ignored at turn level but still persisted as events
// upstream by the session store).
type Assembler struct {
	seq SequenceAllocator

	active  map[string]*Turn               // turnID -> turn
	orphans map[orphanKey]orphanResult
}

// New returns an Assembler allocating turn sequences via seq.
func New(seq SequenceAllocator) *Assembler {
	return &Assembler{
		seq:     seq,
		active:  make(map[string]*Turn),
		orphans: make(map[orphanKey]orphanResult),
	}
}

const thinkingPublicText = "Thinking..."

// Apply folds one event into the assembler's state, returning the turn it
// affected (nil if the event carries a non-root agentId or is otherwise
// turn-irrelevant).
func (a *Assembler) Apply(e stream.Event) (*Turn, error) {
	if e.ParentAgentID() != "" {
		return nil, nil
	}
	agentID := e.AgentID()
	if agentID == "" {
		return nil, nil
	}
	turnID := "turn-" + agentID

	switch e.Type() {
	case stream.EventIterationStart:
		return a.ensureTurn(turnID, e), nil
	case stream.EventStatusChange:
		t := a.ensureTurn(turnID, e)
		if s, ok := publicStatus(e.Data()); ok && (s == "thinking" || s == "executing") {
			a.appendThinking(t, thinkingPublicText)
		}
		return t, nil
	case stream.EventToolStart:
		t := a.ensureTurn(turnID, e)
		a.onToolStart(t, e)
		return t, nil
	case stream.EventToolEnd:
		t := a.ensureTurn(turnID, e)
		a.onToolResolve(t, turnID, e, StepStatusDone, dataString(e.Data(), "output"), "")
		return t, nil
	case stream.EventToolError:
		t := a.ensureTurn(turnID, e)
		a.onToolResolve(t, turnID, e, StepStatusError, "", dataString(e.Data(), "error"))
		return t, nil
	case stream.EventLLMEnd:
		t := a.ensureTurn(turnID, e)
		a.onLLMEnd(t, e)
		return t, nil
	case stream.EventAgentError:
		t := a.ensureTurn(turnID, e)
		t.Status = StatusFailed
		t.Steps = append(t.Steps, Step{Kind: StepError, Error: dataString(e.Data(), "error")})
		return t, nil
	case stream.EventAgentEnd:
		t := a.ensureTurn(turnID, e)
		t.Status = StatusCompleted
		t.CompletedAt = e.Timestamp()
		delete(a.active, turnID)
		a.dropOrphansFor(turnID)
		return t, nil
	default:
		return a.active[turnID], nil
	}
}

// NewUserTurn constructs and returns an already-complete user turn, per §3
// ("User turns have one text step and are immediately complete").
func (a *Assembler) NewUserTurn(sessionID, text string, at time.Time) (*Turn, error) {
	seq, err := a.seq.NextTurnSequence(sessionID)
	if err != nil {
		return nil, err
	}
	return &Turn{
		ID:          "turn-user-" + strconv.FormatInt(seq, 10),
		Type:        TypeUser,
		Sequence:    seq,
		StartedAt:   at,
		CompletedAt: at,
		Status:      StatusCompleted,
		Steps:       []Step{{Kind: StepText, Role: "user", Text: text}},
	}, nil
}

func (a *Assembler) ensureTurn(turnID string, e stream.Event) *Turn {
	if t, ok := a.active[turnID]; ok {
		return t
	}
	seq, _ := a.seq.NextTurnSequence(e.SessionID())
	t := &Turn{
		ID:        turnID,
		Type:      TypeAssistant,
		Sequence:  seq,
		StartedAt: e.Timestamp(),
		Status:    StatusStreaming,
	}
	a.active[turnID] = t
	return t
}

func (a *Assembler) appendThinking(t *Turn, text string) {
	if n := len(t.Steps); n > 0 && t.Steps[n-1].Kind == StepThinking {
		t.Steps[n-1].Text += text
		return
	}
	t.Steps = append(t.Steps, Step{Kind: StepThinking, Text: text})
}

func (a *Assembler) onToolStart(t *Turn, e stream.Event) {
	toolCallID := e.ToolCallID()
	toolName := dataString(e.Data(), "name")
	input := dataMap(e.Data(), "input")
	t.Steps = append(t.Steps, Step{
		Kind:       StepToolUse,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Status:     StepStatusPending,
		Input:      input,
	})
	a.flushOrphans(t, toolCallID, toolName)
}

func (a *Assembler) onToolResolve(t *Turn, turnID string, e stream.Event, status StepStatus, output, errStr string) {
	toolCallID := e.ToolCallID()
	toolName := dataString(e.Data(), "name")
	for i := range t.Steps {
		s := &t.Steps[i]
		if s.Kind != StepToolUse || s.Status != StepStatusPending {
			continue
		}
		if (toolCallID != "" && s.ToolCallID == toolCallID) || (toolCallID == "" && s.ToolName == toolName) {
			s.Status = status
			s.Output = output
			s.Error = errStr
			if md, ok := e.Data().(map[string]any); ok {
				s.Metadata = md
			}
			return
		}
	}
	// No matching pending step: buffer as an orphan (§4.13). tool:end/error
	// events frequently carry no "name" field, so when an id is present the
	// orphan is keyed by id alone; only a nameless end falls back to a
	// name-keyed entry.
	key := orphanKey{turnID: turnID, id: toolCallID, name: toolName}
	if toolCallID != "" {
		key.name = ""
	}
	a.orphans[key] = orphanResult{
		status: status, output: output, errStr: errStr,
	}
}

func (a *Assembler) flushOrphans(t *Turn, toolCallID, toolName string) {
	keys := []orphanKey{{turnID: t.ID, id: toolCallID, name: toolName}}
	if toolCallID != "" {
		keys = append(keys, orphanKey{turnID: t.ID, id: toolCallID, name: ""})
		keys = append(keys, orphanKey{turnID: t.ID, id: "", name: toolName})
	}
	for _, k := range keys {
		res, ok := a.orphans[k]
		if !ok {
			continue
		}
		delete(a.orphans, k)
		for i := range t.Steps {
			s := &t.Steps[i]
			if s.Kind == StepToolUse && s.Status == StepStatusPending &&
				((toolCallID != "" && s.ToolCallID == toolCallID) || (toolCallID == "" && s.ToolName == toolName)) {
				s.Status = res.status
				s.Output = res.output
				s.Error = res.errStr
				s.Metadata = res.metadata
				return
			}
		}
	}
}

func (a *Assembler) dropOrphansFor(turnID string) {
	for k := range a.orphans {
		if k.turnID == turnID {
			delete(a.orphans, k)
		}
	}
}

func (a *Assembler) onLLMEnd(t *Turn, e stream.Event) {
	data, _ := e.Data().(map[string]any)
	content, _ := data["content"].(string)
	if content == "" {
		return
	}
	hasToolCalls, _ := data["hasToolCalls"].(bool)
	if hasToolCalls {
		a.appendThinking(t, content)
		return
	}
	t.Steps = append(t.Steps, Step{Kind: StepText, Role: "assistant", Text: content})
}

func publicStatus(data any) (string, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m["status"].(string)
	return s, ok
}

func dataString(data any, key string) string {
	m, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func dataMap(data any, key string) map[string]any {
	m, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

