// Package quality implements the quality gate (§4.5): a final scoring pass
// over a candidate completion that decides whether the run's answer counts
// as a pass or only a partial result with concrete next checks.
package quality

import "github.com/agentloop/core/agent"

// Input bundles everything the gate needs to score one candidate completion.
type Input struct {
	Intent agent.Intent

	FilesRead     int
	FilesModified int
	FilesCreated  int

	ToolCallsTotal int
	ToolErrorCount int

	SearchSignalHits int

	// LedgerCapabilities lists capabilities the task's requirements implied
	// (derived from agent.Task.Requirements); LedgerUnmet is the subset that
	// were never exercised by any tool call, each contributing a ding.
	LedgerCapabilities []string
	LedgerUnmet        []string

	IterationsUsed int
}

// Weights exposes the scoring constants as tunable fields rather than
// hard-coded literals, since the exact penalty values are illustrative and
// meant to be derived empirically per deployment; this package ships one set
// of sane defaults rather than inventing new ones.
type Weights struct {
	ToolErrorPenalty     float64 // applied once if errors exceed 1/3 of calls
	UnmetActionPenalty   float64 // applied once if an action task touched no files
	MissingSearchPenalty float64 // applied once if a discovery task has no search signal
	LedgerGapPenalty     float64 // applied per unmet ledger capability
	PassThreshold        float64
}

// DefaultWeights returns the documented default penalty weights (§4.5).
func DefaultWeights() Weights {
	return Weights{
		ToolErrorPenalty:     0.3,
		UnmetActionPenalty:   0.3,
		MissingSearchPenalty: 0.2,
		LedgerGapPenalty:     0.15,
		PassThreshold:        0.5,
	}
}

// Status is the gate's pass/partial verdict.
type Status string

const (
	StatusPass    Status = "pass"
	StatusPartial Status = "partial"
)

// Result is the gate's output (§4.5).
type Result struct {
	Status     Status
	Score      float64
	Reasons    []string
	NextChecks []string
}

// Score evaluates in against w (DefaultWeights() if the zero value is
// passed) and returns the scored Result.
func Score(in Input, w Weights) Result {
	if w == (Weights{}) {
		w = DefaultWeights()
	}

	score := 1.0
	var reasons, nextChecks []string

	if in.ToolCallsTotal > 0 && float64(in.ToolErrorCount) > float64(in.ToolCallsTotal)/3 {
		score -= w.ToolErrorPenalty
		reasons = append(reasons, "tool error rate exceeded one third of tool calls")
		nextChecks = append(nextChecks, "re-run the failing tool calls and inspect their errors")
	}

	touchedFiles := in.FilesModified + in.FilesCreated
	if in.Intent == agent.IntentAction && touchedFiles == 0 {
		score -= w.UnmetActionPenalty
		reasons = append(reasons, "action task completed without modifying or creating any files")
		nextChecks = append(nextChecks, "re-read the task and make the required file changes")
	}

	if in.Intent == agent.IntentDiscovery && in.SearchSignalHits == 0 {
		score -= w.MissingSearchPenalty
		reasons = append(reasons, "discovery task produced no strong search signal")
		nextChecks = append(nextChecks, "broaden the search and re-check for evidence")
	}

	if n := len(in.LedgerUnmet); n > 0 {
		score -= float64(n) * w.LedgerGapPenalty
		reasons = append(reasons, "unmet ledger capabilities: "+joinCSV(in.LedgerUnmet))
		for _, cap := range in.LedgerUnmet {
			nextChecks = append(nextChecks, "address requirement: "+cap)
		}
	}

	if touchedFiles > 0 {
		nextChecks = append(nextChecks, "re-read modified files to confirm they match intent")
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	status := StatusPartial
	if score >= w.PassThreshold {
		status = StatusPass
		nextChecks = nil
	}

	return Result{Status: status, Score: score, Reasons: reasons, NextChecks: nextChecks}
}

func joinCSV(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
