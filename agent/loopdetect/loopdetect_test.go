package loopdetect_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentloop/core/agent/loopdetect"
)

func TestCanonicalize_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"query": "foo", "limit": 10}
	b := map[string]any{"limit": 10, "query": "foo"}
	assert.Equal(t, loopdetect.Canonicalize(a), loopdetect.Canonicalize(b))
}

func TestCanonicalize_DifferentValuesDiffer(t *testing.T) {
	a := map[string]any{"query": "foo"}
	b := map[string]any{"query": "bar"}
	assert.NotEqual(t, loopdetect.Canonicalize(a), loopdetect.Canonicalize(b))
}

func TestDetector_RequiresFullWindow(t *testing.T) {
	d := loopdetect.NewWithWindow(3)
	sig := loopdetect.NewSignature("grep_search", map[string]any{"query": "foo"})

	assert.False(t, d.Record(sig))
	assert.False(t, d.Record(sig), "two identical calls never trigger loop detection with loopWindow=3")
	assert.True(t, d.Record(sig), "the third identical call completes the window")
}

func TestDetector_DifferentInputBreaksTheStreak(t *testing.T) {
	d := loopdetect.NewWithWindow(3)
	sig1 := loopdetect.NewSignature("grep_search", map[string]any{"query": "foo"})
	sig2 := loopdetect.NewSignature("grep_search", map[string]any{"query": "bar"})

	d.Record(sig1)
	d.Record(sig1)
	assert.False(t, d.Record(sig2))
	assert.False(t, d.Record(sig1))
	assert.False(t, d.Record(sig1))
	assert.True(t, d.Record(sig1))
}

func TestDetector_Reset(t *testing.T) {
	d := loopdetect.NewWithWindow(2)
	sig := loopdetect.NewSignature("x", nil)
	d.Record(sig)
	assert.True(t, d.Record(sig))
	d.Reset()
	assert.False(t, d.Record(sig))
}

func TestAllEqual(t *testing.T) {
	sig := loopdetect.NewSignature("x", nil)
	other := loopdetect.NewSignature("y", nil)
	assert.True(t, loopdetect.AllEqual([]loopdetect.Signature{sig, sig, sig}, 3))
	assert.False(t, loopdetect.AllEqual([]loopdetect.Signature{sig, other, sig}, 3))
	assert.False(t, loopdetect.AllEqual([]loopdetect.Signature{sig, sig}, 3))
}
