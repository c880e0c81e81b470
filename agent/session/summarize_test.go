package session_test

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/core/agent/session"
	"github.com/agentloop/core/agent/turn"
)

func completedTurn(id string, seq int64, text string) *turn.Turn {
	return &turn.Turn{
		ID: id, Type: turn.TypeAssistant, Sequence: seq, Status: turn.StatusCompleted,
		Steps: []turn.Step{{Kind: turn.StepText, Text: text}},
	}
}

func TestConversationHistoryWithSummarization_TiersInOrder(t *testing.T) {
	var turns []*turn.Turn
	for i := 0; i < 25; i++ {
		turns = append(turns, completedTurn(strconv.Itoa(i), int64(i), strings.Repeat("x", 1000)))
	}

	out := session.ConversationHistoryWithSummarization(turns, nil)

	require.Len(t, out, 20)
	// chronological order preserved: oldest of the 20 kept comes first.
	assert.Equal(t, session.TierOld, out[0].Tier)
	assert.Equal(t, session.TierRecent, out[len(out)-1].Tier)

	var recentCount, midCount, oldCount int
	for _, ht := range out {
		switch ht.Tier {
		case session.TierRecent:
			recentCount++
			assert.Equal(t, 1000, len(ht.Text), "recent tier keeps full text")
		case session.TierMidTerm:
			midCount++
			assert.LessOrEqual(t, len(ht.Text), 500)
		case session.TierOld:
			oldCount++
			assert.LessOrEqual(t, len(ht.Text), 150)
		}
	}
	assert.Equal(t, 3, recentCount)
	assert.Equal(t, 7, midCount)
	assert.Equal(t, 10, oldCount)
}

func TestConversationHistoryWithSummarization_SkipsIncompleteTurns(t *testing.T) {
	streaming := completedTurn("t1", 1, "partial")
	streaming.Status = turn.StatusStreaming
	done := completedTurn("t2", 2, "final")

	out := session.ConversationHistoryWithSummarization([]*turn.Turn{streaming, done}, nil)

	require.Len(t, out, 1)
	assert.Equal(t, "t2", out[0].Turn.ID)
}

type upperSummarizer struct{}

func (upperSummarizer) Summarize(text string, maxChars int) string {
	return strings.ToUpper(text[:maxChars])
}

func TestConversationHistoryWithSummarization_UsesSummarizerWhenProvided(t *testing.T) {
	var turns []*turn.Turn
	for i := 0; i < 4; i++ {
		turns = append(turns, completedTurn(strconv.Itoa(i), int64(i), strings.Repeat("a", 1000)))
	}

	out := session.ConversationHistoryWithSummarization(turns, upperSummarizer{})

	// turn at rank 3 (0-indexed from newest) falls into mid-term tier.
	var midTerm *session.HistoryTurn
	for i := range out {
		if out[i].Tier == session.TierMidTerm {
			midTerm = &out[i]
			break
		}
	}
	require.NotNil(t, midTerm)
	assert.True(t, strings.HasPrefix(midTerm.Text, "AAA"))
}

