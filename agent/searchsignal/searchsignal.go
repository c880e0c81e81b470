// Package searchsignal classifies each iteration's tool outputs as none,
// partial, or strong evidence (§4.3), preferring an LLM bridge with a
// deterministic keyword-density fallback, and decides when a discovery task
// should conclude early with a "nothing found" summary.
package searchsignal

import (
	"context"
	"strings"

	"github.com/agentloop/core/agent"
)

// Signal classifies the evidence strength of one iteration's tool outputs.
type Signal string

const (
	SignalNone    Signal = "none"
	SignalPartial Signal = "partial"
	SignalStrong  Signal = "strong"
)

// Classifier is the LLM bridge used to classify tool outputs. Implementations
// typically wrap an llmprovider.Provider call. A nil Classifier
// causes Tracker to always use the deterministic fallback.
type Classifier interface {
	Classify(ctx context.Context, outputs []string) (Signal, error)
}

// maxSnippets bounds the FIFO of recent evidence snippets (§4.3: "≤ 6").
const maxSnippets = 6

// Tracker classifies tool outputs iteration by iteration and accumulates the
// signals needed by the budget controller, progress tracker, and quality
// gate. Not safe for concurrent use.
type Tracker struct {
	classifier Classifier
	intent     agent.Intent

	hits            int
	recentSnippets  []string
	consecutiveNone int
}

// New returns a Tracker for a run with the given intent. classifier may be
// nil, in which case the deterministic fallback is always used.
func New(classifier Classifier, intent agent.Intent) *Tracker {
	return &Tracker{classifier: classifier, intent: intent}
}

// Observe classifies one iteration's tool outputs, updates internal
// counters, and returns the resulting Signal. On classifier error, falls
// back to the deterministic heuristic rather than failing the run (the
// search-signal tracker is an advisory subsystem, never load-bearing for
// correctness).
func (t *Tracker) Observe(ctx context.Context, outputs []string) Signal {
	sig := t.classify(ctx, outputs)

	switch sig {
	case SignalStrong:
		t.hits++
		t.consecutiveNone = 0
		t.pushSnippets(outputs)
	case SignalPartial:
		t.consecutiveNone = 0
		t.pushSnippets(outputs)
	case SignalNone:
		t.consecutiveNone++
	}
	return sig
}

func (t *Tracker) classify(ctx context.Context, outputs []string) Signal {
	if t.classifier != nil {
		if sig, err := t.classifier.Classify(ctx, outputs); err == nil {
			return sig
		}
	}
	return fallbackClassify(outputs)
}

func (t *Tracker) pushSnippets(outputs []string) {
	for _, o := range outputs {
		if strings.TrimSpace(o) == "" {
			continue
		}
		t.recentSnippets = append(t.recentSnippets, o)
	}
	if len(t.recentSnippets) > maxSnippets {
		t.recentSnippets = t.recentSnippets[len(t.recentSnippets)-maxSnippets:]
	}
}

// Hits returns the accumulated searchSignalHits count.
func (t *Tracker) Hits() int { return t.hits }

// RecentSnippets returns the bounded FIFO of recent evidence snippets.
func (t *Tracker) RecentSnippets() []string { return t.recentSnippets }

// ShouldConcludeNoResultEarly reports whether the run should terminate with
// a "nothing found" summary (§4.3): requiredConsecutive or more consecutive
// `none` classifications, and the task intent is discovery (never action).
func (t *Tracker) ShouldConcludeNoResultEarly(requiredConsecutive int) bool {
	if t.intent != agent.IntentDiscovery {
		return false
	}
	if requiredConsecutive <= 0 {
		requiredConsecutive = 3
	}
	return t.consecutiveNone >= requiredConsecutive
}

// noResultMarkers are case-insensitive substrings that strongly suggest a
// tool found nothing.
var noResultMarkers = []string{
	"no results", "no matches", "not found", "0 results", "nothing found", "no files found",
}

// fallbackClassify implements the deterministic keyword-density heuristic
// used when no LLM classifier is configured or the classifier fails. It is
// intentionally simple: count whitespace-separated words across outputs
// (fewer than 20 is partial), and check for explicit no-result markers.
func fallbackClassify(outputs []string) Signal {
	total := 0
	hasMarker := false
	for _, o := range outputs {
		lower := strings.ToLower(o)
		for _, marker := range noResultMarkers {
			if strings.Contains(lower, marker) {
				hasMarker = true
			}
		}
		total += len(strings.Fields(o))
	}
	switch {
	case hasMarker || total == 0:
		return SignalNone
	case total < 20:
		return SignalPartial
	default:
		return SignalStrong
	}
}
