// Package reflection implements the reflection engine (§2, 4% share):
// periodically asking an LLM to produce a short hypothesis/next-check note
// summarizing what the run has learned so far and what it should try next.
// It is consulted by the execution loop at a configurable cadence, and more
// eagerly once the progress tracker reports the run is stuck (§4.2).
package reflection

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentloop/core/agent/llmprovider"
	"github.com/agentloop/core/agent/model"
)

// Note is one reflection pass's output.
type Note struct {
	Hypothesis string
	NextCheck  string
	// Degraded is true when the note was produced by the deterministic
	// fallback because the provider call failed or was unavailable.
	Degraded bool
}

// Input bundles the context a reflection pass reasons over.
type Input struct {
	TaskText        string
	RecentToolCalls []string
	RecentOutputs   []string
	Stuck           bool
	IterationsUsed  int
}

// Engine produces reflection notes.
type Engine struct {
	provider llmprovider.Provider
}

// New returns an Engine backed by provider. provider may be nil, in which
// case every call uses the deterministic fallback.
func New(provider llmprovider.Provider) *Engine {
	return &Engine{provider: provider}
}

// Reflect produces a Note for in. On provider error it falls back to a
// deterministic note built from the most recent tool activity so the loop
// always has something to act on.
func (e *Engine) Reflect(ctx context.Context, in Input) Note {
	if e.provider == nil {
		return fallback(in)
	}
	prompt := buildPrompt(in)
	resp, err := e.provider.Complete(ctx, prompt, llmprovider.CompleteOptions{Temperature: 0.2, MaxTokens: 200})
	if err != nil {
		return fallback(in)
	}
	hypothesis, nextCheck := splitNote(resp.Content)
	if hypothesis == "" && nextCheck == "" {
		return fallback(in)
	}
	return Note{Hypothesis: hypothesis, NextCheck: nextCheck}
}

func buildPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", in.TaskText)
	fmt.Fprintf(&b, "Iterations so far: %d\n", in.IterationsUsed)
	if in.Stuck {
		b.WriteString("The run appears stuck: recent tool calls have not produced new information.\n")
	}
	if len(in.RecentToolCalls) > 0 {
		fmt.Fprintf(&b, "Recent tool calls: %s\n", strings.Join(in.RecentToolCalls, ", "))
	}
	for _, out := range in.RecentOutputs {
		fmt.Fprintf(&b, "Recent output: %s\n", truncate(out, 300))
	}
	b.WriteString("In two short lines, state: (1) your current hypothesis about the answer, (2) the single next check that would confirm or refute it.")
	return b.String()
}

// splitNote parses a two-line "hypothesis / next check" response: the first
// line is the hypothesis and everything after the first newline is the next
// check. A single-line response yields a hypothesis with no next check,
// which Reflect then still prefers over the deterministic fallback.
func splitNote(content string) (hypothesis, nextCheck string) {
	lines := strings.SplitN(strings.TrimSpace(content), "\n", 2)
	if len(lines) == 0 {
		return "", ""
	}
	hypothesis = strings.TrimSpace(lines[0])
	if len(lines) == 2 {
		nextCheck = strings.TrimSpace(lines[1])
	}
	return hypothesis, nextCheck
}

func fallback(in Input) Note {
	hypothesis := "no clear hypothesis yet"
	if len(in.RecentOutputs) > 0 {
		hypothesis = "last observation: " + truncate(in.RecentOutputs[len(in.RecentOutputs)-1], 160)
	}
	nextCheck := "broaden the search to an area not yet covered"
	if in.Stuck {
		nextCheck = "try a materially different tool or query; repeating the same call will not help"
	}
	return Note{Hypothesis: hypothesis, NextCheck: nextCheck, Degraded: true}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// AsMessage renders note as a system-role message suitable for injection
// into the next provider call's history, giving the model its own prior
// reasoning as context.
func AsMessage(note Note) model.Message {
	return model.Message{
		Role: model.RoleSystem,
		Text: fmt.Sprintf("Reflection - hypothesis: %s. Next check: %s.", note.Hypothesis, note.NextCheck),
	}
}
