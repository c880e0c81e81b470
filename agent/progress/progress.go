// Package progress implements the progress tracker (§4.2): a sliding window
// over recent tool activity used to detect stalls and to compute the
// evidence score consumed by the budget controller and quality gate.
package progress

// Input is what the tracker needs observed for one completed iteration.
type Input struct {
	ToolName                string
	OutputSize              int
	EvidenceDelta           int
	FailedToolsThisIteration int
	SearchSignalHits        int
}

// Weights controls how the evidence score combines its inputs. The spec
// gives no fixed coefficients ("weighted sum... capped at 1.0"), so this
// package exposes them for tuning; DefaultWeights is a reasonable, documented
// starting point analogous to the quality gate's own illustrative constants.
type Weights struct {
	FilesRead              float64
	FilesModified          float64
	FilesCreated           float64
	SearchSignalHits       float64
	RecentSearchEvidence   float64
}

// DefaultWeights favors modification/creation over mere reads, and treats
// each unit of search evidence as a small, capped contribution.
func DefaultWeights() Weights {
	return Weights{
		FilesRead:            0.05,
		FilesModified:        0.15,
		FilesCreated:         0.15,
		SearchSignalHits:     0.10,
		RecentSearchEvidence: 0.05,
	}
}

// Tracker maintains the sliding window and failure counter for one run. Not
// safe for concurrent use; a Run has exactly one writer (§5).
type Tracker struct {
	window int // K, default 3

	recentToolNames []string
	recentSizes     []int

	iterationsSinceProgress int
	lastProgressIteration   int
	failureCount            int

	recentSearchEvidenceCount int // highest SearchSignalHits observed so far

	weights Weights
}

// New returns a Tracker with the default window size of 3.
func New() *Tracker {
	return NewWithWindow(3)
}

// NewWithWindow returns a Tracker with an explicit window size K.
func NewWithWindow(window int) *Tracker {
	if window <= 0 {
		window = 3
	}
	return &Tracker{window: window, weights: DefaultWeights()}
}

// WithWeights overrides the evidence-score weights and returns the tracker
// for chaining.
func (t *Tracker) WithWeights(w Weights) *Tracker {
	t.weights = w
	return t
}

// Observe records one completed iteration's signal and reports whether it
// counts as a progress event (§4.2): evidenceDelta > 0, OR searchSignalHits
// increased relative to the previous call, OR newFileAppeared is true.
func (t *Tracker) Observe(iteration int, in Input, newFileAppeared bool) (progressed bool) {
	t.recentToolNames = pushBounded(t.recentToolNames, in.ToolName, t.window)
	t.recentSizes = pushBoundedInt(t.recentSizes, in.OutputSize, t.window)

	searchIncreased := in.SearchSignalHits > t.recentSearchEvidenceCount
	progressed = in.EvidenceDelta > 0 || searchIncreased || newFileAppeared

	if in.SearchSignalHits > t.recentSearchEvidenceCount {
		t.recentSearchEvidenceCount = in.SearchSignalHits
	}
	if in.FailedToolsThisIteration > 0 {
		t.failureCount += in.FailedToolsThisIteration
	}

	if progressed {
		t.iterationsSinceProgress = 0
		t.lastProgressIteration = iteration
	} else {
		t.iterationsSinceProgress++
	}
	return progressed
}

// IterationsSinceProgress returns the current stall length.
func (t *Tracker) IterationsSinceProgress() int { return t.iterationsSinceProgress }

// LastProgressIteration returns the last iteration number that counted as
// progress (zero if none yet).
func (t *Tracker) LastProgressIteration() int { return t.lastProgressIteration }

// FailureCount returns the cumulative count of failed tool calls observed.
func (t *Tracker) FailureCount() int { return t.failureCount }

// Stuck reports whether the run should be classified as stalled (§4.2):
// the last stuckThreshold tool calls share one name, or
// iterationsSinceProgress has reached stuckThreshold.
func (t *Tracker) Stuck(stuckThreshold int) bool {
	if stuckThreshold <= 0 {
		stuckThreshold = 3
	}
	if t.iterationsSinceProgress >= stuckThreshold {
		return true
	}
	return t.repeatedToolNames(stuckThreshold)
}

func (t *Tracker) repeatedToolNames(k int) bool {
	if len(t.recentToolNames) < k {
		return false
	}
	tail := t.recentToolNames[len(t.recentToolNames)-k:]
	first := tail[0]
	if first == "" {
		return false
	}
	for _, n := range tail[1:] {
		if n != first {
			return false
		}
	}
	return true
}

// EvidenceScore computes the weighted-sum evidence score (§4.2), capped at
// 1.0, from the current file-set sizes and recent search evidence.
func (t *Tracker) EvidenceScore(filesRead, filesModified, filesCreated int) float64 {
	w := t.weights
	score := float64(filesRead)*w.FilesRead +
		float64(filesModified)*w.FilesModified +
		float64(filesCreated)*w.FilesCreated +
		float64(t.recentSearchEvidenceCount)*w.SearchSignalHits +
		float64(t.recentSearchEvidenceCount)*w.RecentSearchEvidence
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func pushBounded(s []string, v string, max int) []string {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

func pushBoundedInt(s []int, v int, max int) []int {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
