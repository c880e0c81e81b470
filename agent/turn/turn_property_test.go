package turn_test

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/agentloop/core/agent/stream"
	"github.com/agentloop/core/agent/turn"
)

// TestApply_ToolEventOrderingIsIdempotentProperty verifies §4.13's claim
// that out-of-order tool:start/tool:end arrival within a turn never loses or
// misattributes a result: for any number of independent tool calls, whatever
// order their start/end events are interleaved in (including end-before-
// start), the finished turn ends up with exactly one done step per call,
// each carrying its own output.
func TestApply_ToolEventOrderingIsIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("final step set is independent of start/end interleaving", prop.ForAll(
		func(n int, seed int64) bool {
			type ev struct {
				kind stream.EventType
				call string
				data map[string]any
			}
			var events []ev
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("call-%d", i)
				events = append(events,
					ev{stream.EventToolStart, id, map[string]any{"name": "tool_" + id}},
					ev{stream.EventToolEnd, id, map[string]any{"output": "out_" + id}},
				)
			}
			rng := rand.New(rand.NewSource(seed))
			rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

			a := turn.New(&seqStub{})
			var last *turn.Turn
			for _, e := range events {
				got, err := a.Apply(agentEvent(e.kind, "agent-1", e.data, e.call))
				if err != nil {
					return false
				}
				last = got
			}
			final, err := a.Apply(agentEvent(stream.EventAgentEnd, "agent-1", nil, ""))
			if err != nil {
				return false
			}
			_ = last

			if final.Status != turn.StatusCompleted {
				return false
			}
			doneByOutput := make(map[string]bool, n)
			for _, s := range final.Steps {
				if s.Kind != turn.StepToolUse {
					continue
				}
				if s.Status != turn.StepStatusDone {
					return false
				}
				doneByOutput[s.Output] = true
			}
			if len(doneByOutput) != n {
				return false
			}
			var want []string
			for i := 0; i < n; i++ {
				want = append(want, fmt.Sprintf("out_call-%d", i))
			}
			sort.Strings(want)
			var got []string
			for k := range doneByOutput {
				got = append(got, k)
			}
			sort.Strings(got)
			if len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 8),
		gen.Int64Range(0, 1<<30),
	))

	properties.TestingRun(t)
}
