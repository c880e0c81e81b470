package turn_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/core/agent/stream"
	"github.com/agentloop/core/agent/turn"
)

type seqStub struct{ n int64 }

func (s *seqStub) NextTurnSequence(sessionID string) (int64, error) {
	s.n++
	return s.n, nil
}

func agentEvent(typ stream.EventType, agentID string, data any, toolCallID string) stream.Event {
	return stream.NewBase(typ, "sess-1", data).WithRun("run-1", agentID).WithToolCallID(toolCallID)
}

// TestApply_OrphanToolResultBuffersThenFlushesOnNextStart reproduces the
// end-before-start scenario: tool:end arrives for t1 before its tool:start,
// so it must be buffered and flushed onto the step once tool:start(t1)
// arrives, then the turn completes with that step marked done.
func TestApply_OrphanToolResultBuffersThenFlushesOnNextStart(t *testing.T) {
	a := turn.New(&seqStub{})

	got, err := a.Apply(agentEvent(stream.EventToolEnd, "agent-1", map[string]any{"output": "ok"}, "t1"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Steps, 0, "no pending step yet, result must be buffered not lost")

	got, err = a.Apply(agentEvent(stream.EventToolStart, "agent-1", map[string]any{"name": "fs_read", "path": "a"}, "t1"))
	require.NoError(t, err)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, turn.StepStatusDone, got.Steps[0].Status)
	assert.Equal(t, "ok", got.Steps[0].Output)
	assert.Equal(t, "t1", got.Steps[0].ToolCallID)

	got, err = a.Apply(agentEvent(stream.EventAgentEnd, "agent-1", nil, ""))
	require.NoError(t, err)
	assert.Equal(t, turn.StatusCompleted, got.Status)
}

func TestApply_ChildAgentEventsIgnoredAtTurnLevel(t *testing.T) {
	a := turn.New(&seqStub{})
	e := stream.NewBase(stream.EventToolStart, "sess-1", nil).WithRun("run-1", "agent-2").WithParentAgent("agent-1")

	got, err := a.Apply(e)

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestApply_ToolStartThenEndMarksStepDone(t *testing.T) {
	a := turn.New(&seqStub{})

	_, err := a.Apply(agentEvent(stream.EventToolStart, "agent-1", map[string]any{"name": "search"}, "t1"))
	require.NoError(t, err)
	got, err := a.Apply(agentEvent(stream.EventToolEnd, "agent-1", map[string]any{"output": "found it"}, "t1"))
	require.NoError(t, err)

	require.Len(t, got.Steps, 1)
	assert.Equal(t, turn.StepStatusDone, got.Steps[0].Status)
	assert.Equal(t, "found it", got.Steps[0].Output)
}

func TestApply_AgentErrorFailsTurn(t *testing.T) {
	a := turn.New(&seqStub{})
	got, err := a.Apply(agentEvent(stream.EventAgentError, "agent-1", map[string]any{"error": "boom"}, ""))

	require.NoError(t, err)
	assert.Equal(t, turn.StatusFailed, got.Status)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, turn.StepError, got.Steps[0].Kind)
}

func TestNewUserTurn_ImmediatelyComplete(t *testing.T) {
	a := turn.New(&seqStub{})
	ut, err := a.NewUserTurn("sess-1", "hello", time.Now())

	require.NoError(t, err)
	assert.Equal(t, turn.TypeUser, ut.Type)
	assert.Equal(t, turn.StatusCompleted, ut.Status)
	require.Len(t, ut.Steps, 1)
	assert.Equal(t, "hello", ut.Steps[0].Text)
}

func TestApply_OrphanDiscardedIfAgentEndsWithoutMatchingStart(t *testing.T) {
	a := turn.New(&seqStub{})
	_, err := a.Apply(agentEvent(stream.EventToolEnd, "agent-1", map[string]any{"output": "late"}, "t-never"))
	require.NoError(t, err)

	got, err := a.Apply(agentEvent(stream.EventAgentEnd, "agent-1", nil, ""))
	require.NoError(t, err)
	assert.Equal(t, turn.StatusCompleted, got.Status)
	assert.Empty(t, got.Steps)
}
