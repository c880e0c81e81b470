package stream_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentloop/core/agent/stream"
)

func TestBase_GettersAndWithers(t *testing.T) {
	b := stream.NewBase(stream.EventToolStart, "sess-1", map[string]any{"name": "search"}).
		WithRun("run-1", "agent-1").
		WithParentAgent("agent-0").
		WithToolCallID("t1").
		WithSessionSeq(3)

	assert.Equal(t, stream.EventToolStart, b.Type())
	assert.Equal(t, "sess-1", b.SessionID())
	assert.Equal(t, "run-1", b.RunID())
	assert.Equal(t, "agent-1", b.AgentID())
	assert.Equal(t, "agent-0", b.ParentAgentID())
	assert.Equal(t, "t1", b.ToolCallID())
	assert.Equal(t, int64(3), b.SessionSeq())
}

func TestBus_PublishFansOutToAllSinks(t *testing.T) {
	var got1, got2 int
	bus := stream.NewBus(
		stream.SinkFunc(func(e stream.Event) error { got1++; return nil }),
		stream.SinkFunc(func(e stream.Event) error { got2++; return nil }),
	)

	err := bus.Publish(stream.NewBase(stream.EventAgentStart, "sess-1", nil))

	assert.NoError(t, err)
	assert.Equal(t, 1, got1)
	assert.Equal(t, 1, got2)
}

func TestBus_PublishContinuesPastFailingSink(t *testing.T) {
	var called bool
	bus := stream.NewBus(
		stream.SinkFunc(func(e stream.Event) error { return errors.New("boom") }),
		stream.SinkFunc(func(e stream.Event) error { called = true; return nil }),
	)

	err := bus.Publish(stream.NewBase(stream.EventAgentStart, "sess-1", nil))

	assert.Error(t, err)
	assert.True(t, called)
}
