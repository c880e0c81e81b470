package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/core/agent/session"
)

func TestInMemoryLifecycleStore_CreateSessionIsIdempotent(t *testing.T) {
	s := session.NewInMemoryLifecycleStore()
	ctx := context.Background()
	now := time.Now()

	created, err := s.CreateSession(ctx, "sess-1", now)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, created.Status)

	again, err := s.CreateSession(ctx, "sess-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, again.CreatedAt, "re-creating an existing session returns the original")
}

func TestInMemoryLifecycleStore_CreateSessionAfterEndedReturnsError(t *testing.T) {
	s := session.NewInMemoryLifecycleStore()
	ctx := context.Background()
	now := time.Now()

	_, err := s.CreateSession(ctx, "sess-1", now)
	require.NoError(t, err)
	_, err = s.EndSession(ctx, "sess-1", now.Add(time.Minute))
	require.NoError(t, err)

	_, err = s.CreateSession(ctx, "sess-1", now.Add(time.Hour))
	assert.ErrorIs(t, err, session.ErrSessionEnded)
}

func TestInMemoryLifecycleStore_LoadSessionNotFound(t *testing.T) {
	s := session.NewInMemoryLifecycleStore()
	_, err := s.LoadSession(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestInMemoryLifecycleStore_EndSessionIsIdempotent(t *testing.T) {
	s := session.NewInMemoryLifecycleStore()
	ctx := context.Background()
	now := time.Now()
	_, err := s.CreateSession(ctx, "sess-1", now)
	require.NoError(t, err)

	first, err := s.EndSession(ctx, "sess-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, first.EndedAt)

	second, err := s.EndSession(ctx, "sess-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, *first.EndedAt, *second.EndedAt, "ending an already-ended session keeps the original EndedAt")
}

func TestInMemoryLifecycleStore_EndSessionNotFound(t *testing.T) {
	s := session.NewInMemoryLifecycleStore()
	_, err := s.EndSession(context.Background(), "missing", time.Now())
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestInMemoryLifecycleStore_UpsertAndLoadRun(t *testing.T) {
	s := session.NewInMemoryLifecycleStore()
	ctx := context.Background()

	err := s.UpsertRun(ctx, session.RunMeta{RunID: "run-1", SessionID: "sess-1", Status: session.RunStatusRunning})
	require.NoError(t, err)

	loaded, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, session.RunStatusRunning, loaded.Status)
	assert.False(t, loaded.UpdatedAt.IsZero(), "UpsertRun stamps UpdatedAt")

	err = s.UpsertRun(ctx, session.RunMeta{RunID: "run-1", SessionID: "sess-1", Status: session.RunStatusCompleted})
	require.NoError(t, err)
	loaded, err = s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, session.RunStatusCompleted, loaded.Status, "UpsertRun overwrites the existing entry")
}

func TestInMemoryLifecycleStore_LoadRunNotFound(t *testing.T) {
	s := session.NewInMemoryLifecycleStore()
	_, err := s.LoadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrRunNotFound)
}

func TestInMemoryLifecycleStore_ListRunsBySessionFiltersBySessionAndStatus(t *testing.T) {
	s := session.NewInMemoryLifecycleStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertRun(ctx, session.RunMeta{RunID: "r1", SessionID: "sess-1", Status: session.RunStatusCompleted}))
	require.NoError(t, s.UpsertRun(ctx, session.RunMeta{RunID: "r2", SessionID: "sess-1", Status: session.RunStatusFailed}))
	require.NoError(t, s.UpsertRun(ctx, session.RunMeta{RunID: "r3", SessionID: "sess-2", Status: session.RunStatusCompleted}))

	all, err := s.ListRunsBySession(ctx, "sess-1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	completedOnly, err := s.ListRunsBySession(ctx, "sess-1", []session.RunStatus{session.RunStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completedOnly, 1)
	assert.Equal(t, "r1", completedOnly[0].RunID)
}
