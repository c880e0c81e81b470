package session_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/core/agent/session"
	"github.com/agentloop/core/agent/stream"
)

func newStore(t *testing.T) *session.Store {
	t.Helper()
	st, err := session.New(t.TempDir())
	require.NoError(t, err)
	return st
}

func agentEvent(typ stream.EventType, sessionID, runID, agentID string, data any) stream.Event {
	return stream.NewBase(typ, sessionID, data).WithRun(runID, agentID)
}

func TestAddEvent_AssignsMonotoneSessionSeqPerRun(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	e1, err := st.AddEvent(ctx, agentEvent(stream.EventIterationStart, "sess-1", "run-1", "agent-1", nil))
	require.NoError(t, err)
	e2, err := st.AddEvent(ctx, agentEvent(stream.EventIterationEnd, "sess-1", "run-1", "agent-1", nil))
	require.NoError(t, err)

	assert.Equal(t, int64(1), e1.SessionSeq())
	assert.Equal(t, int64(2), e2.SessionSeq())

	errs := st.Flush("sess-1")
	assert.Empty(t, errs)
}

func TestAddEvent_BuildsTurnSnapshotAvailableAfterFlush(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	_, err := st.AddEvent(ctx, agentEvent(stream.EventToolStart, "sess-2", "run-1", "agent-1", map[string]any{"name": "search"}).WithToolCallID("t1"))
	require.NoError(t, err)
	_, err = st.AddEvent(ctx, agentEvent(stream.EventToolEnd, "sess-2", "run-1", "agent-1", map[string]any{"output": "ok"}).WithToolCallID("t1"))
	require.NoError(t, err)
	_, err = st.AddEvent(ctx, agentEvent(stream.EventAgentEnd, "sess-2", "run-1", "agent-1", nil))
	require.NoError(t, err)

	errs := st.Flush("sess-2")
	require.Empty(t, errs)

	turns, err := st.Turns("sess-2")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "turn-agent-1", turns[0].ID)
}

func TestStore_ReopeningReplaysEventsWhenTurnsSnapshotMissing(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st1, err := session.New(dir)
	require.NoError(t, err)
	_, err = st1.AddEvent(ctx, agentEvent(stream.EventAgentEnd, "sess-3", "run-1", "agent-1", nil))
	require.NoError(t, err)
	require.Empty(t, st1.Flush("sess-3"))
	require.NoError(t, os.Remove(filepath.Join(dir, "sess-3", "turns.json")))

	st2, err := session.New(dir)
	require.NoError(t, err)
	turns, err := st2.Turns("sess-3")
	require.NoError(t, err)
	require.Len(t, turns, 1)
}

func TestInMemoryLifecycleStore_CreateLoadEnd(t *testing.T) {
	s := session.NewInMemoryLifecycleStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx, "sess-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, created.Status)

	loaded, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)

	ended, err := s.EndSession(ctx, "sess-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, session.StatusEnded, ended.Status)

	_, err = s.CreateSession(ctx, "sess-1", time.Now())
	assert.ErrorIs(t, err, session.ErrSessionEnded)
}

func TestInMemoryLifecycleStore_LoadMissingSession(t *testing.T) {
	s := session.NewInMemoryLifecycleStore()
	_, err := s.LoadSession(context.Background(), "nope")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}
