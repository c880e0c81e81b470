package progress_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentloop/core/agent/progress"
)

func TestObserve_ProgressResetsStall(t *testing.T) {
	tr := progress.New()

	progressed := tr.Observe(1, progress.Input{ToolName: "grep_search"}, false)
	assert.False(t, progressed)
	assert.Equal(t, 1, tr.IterationsSinceProgress())

	progressed = tr.Observe(2, progress.Input{ToolName: "fs_read", EvidenceDelta: 1}, false)
	assert.True(t, progressed)
	assert.Equal(t, 0, tr.IterationsSinceProgress())
	assert.Equal(t, 2, tr.LastProgressIteration())
}

func TestObserve_NewFileCountsAsProgress(t *testing.T) {
	tr := progress.New()
	progressed := tr.Observe(1, progress.Input{ToolName: "fs_write"}, true)
	assert.True(t, progressed)
}

func TestStuck_RepeatedToolNames(t *testing.T) {
	tr := progress.New()
	tr.Observe(1, progress.Input{ToolName: "grep_search"}, false)
	tr.Observe(2, progress.Input{ToolName: "grep_search"}, false)
	assert.False(t, tr.Stuck(3), "two identical calls never trigger stuck with threshold 3")

	tr.Observe(3, progress.Input{ToolName: "grep_search"}, false)
	assert.True(t, tr.Stuck(3))
}

func TestStuck_IterationsSinceProgress(t *testing.T) {
	tr := progress.New()
	for i := 1; i <= 3; i++ {
		tr.Observe(i, progress.Input{ToolName: "a"}, false)
	}
	assert.True(t, tr.Stuck(3))
}

func TestEvidenceScore_CappedAtOne(t *testing.T) {
	tr := progress.New()
	score := tr.EvidenceScore(1000, 1000, 1000)
	assert.Equal(t, 1.0, score)
}

func TestFailureCount_Accumulates(t *testing.T) {
	tr := progress.New()
	tr.Observe(1, progress.Input{FailedToolsThisIteration: 2}, false)
	tr.Observe(2, progress.Input{FailedToolsThisIteration: 1}, false)
	assert.Equal(t, 3, tr.FailureCount())
}
