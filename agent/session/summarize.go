package session

import (
	"github.com/agentloop/core/agent/turn"
)

// Summarizer produces an abbreviated form of a turn's text content, used
// for the mid-term tier when an LLM summarizer is configured. Callers
// without one should pass nil; HistoryTier falls back to truncation.
type Summarizer interface {
	Summarize(text string, maxChars int) string
}

const (
	recentTurnCount = 3
	midTermCount    = 7
	oldCount        = 10

	midTermMaxChars = 500
	oldMaxChars     = 150
)

// Tier labels which bucket of ConversationHistory a turn fell into.
type Tier string

const (
	TierRecent  Tier = "recent"
	TierMidTerm Tier = "mid_term"
	TierOld     Tier = "old"
)

// HistoryTurn is one turn as returned by progressive summarization: either
// the full turn (recent tier) or an abbreviated text rendering (mid-term,
// old tiers).
type HistoryTurn struct {
	Turn *turn.Turn
	Tier Tier
	// Text is the (possibly summarized or truncated) flattened text for this
	// turn, ready to prepend to a new run's prompt.
	Text string
}

// ConversationHistoryWithSummarization splits a session's completed turns
// into three tiers - recent (last 3, full), mid-term (next 7, <=500 chars,
// LLM-summarized if summarizer is non-nil else truncated), old (next 10,
// <=150 chars) - per §4.14. Turns beyond the oldest of these 20 are
// dropped entirely; callers needing the full history should read turns.json
// directly.
func ConversationHistoryWithSummarization(turns []*turn.Turn, summarizer Summarizer) []HistoryTurn {
	completed := make([]*turn.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Status == turn.StatusCompleted {
			completed = append(completed, t)
		}
	}

	// Tiers are measured from the most recent turn backward.
	n := len(completed)
	var out []HistoryTurn
	for i := n - 1; i >= 0 && len(out) < recentTurnCount+midTermCount+oldCount; i-- {
		t := completed[i]
		rank := n - 1 - i
		switch {
		case rank < recentTurnCount:
			out = append(out, HistoryTurn{Turn: t, Tier: TierRecent, Text: flatten(t)})
		case rank < recentTurnCount+midTermCount:
			out = append(out, HistoryTurn{Turn: t, Tier: TierMidTerm, Text: abbreviate(flatten(t), midTermMaxChars, summarizer)})
		default:
			out = append(out, HistoryTurn{Turn: t, Tier: TierOld, Text: abbreviate(flatten(t), oldMaxChars, summarizer)})
		}
	}
	// out was built newest-first; restore chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func flatten(t *turn.Turn) string {
	var text string
	for _, step := range t.Steps {
		switch step.Kind {
		case turn.StepText, turn.StepThinking:
			if text != "" {
				text += "\n"
			}
			text += step.Text
		case turn.StepToolUse:
			if step.Output != "" {
				if text != "" {
					text += "\n"
				}
				text += "[" + step.ToolName + "] " + step.Output
			}
		}
	}
	return text
}

func abbreviate(text string, maxChars int, summarizer Summarizer) string {
	if len(text) <= maxChars {
		return text
	}
	if summarizer != nil {
		return summarizer.Summarize(text, maxChars)
	}
	return text[:maxChars]
}
