package budget_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/agentloop/core/agent/budget"
)

// TestNewIterationBudgetClampProperty verifies that the initial iteration
// budget always lands in [6, maxIterations], never below the floor and
// never above the configured ceiling, for any taskBudget/maxIterations pair.
func TestNewIterationBudgetClampProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("initial budget never falls below 6 or above maxIterations", prop.ForAll(
		func(taskBudget, maxIterations int) bool {
			b := budget.NewIterationBudget(taskBudget, maxIterations)
			current := b.Current()
			if current > maxIterations {
				return false
			}
			if maxIterations >= 6 && current < 6 {
				return false
			}
			// When maxIterations itself is below the floor, the hard
			// ceiling wins: current must equal maxIterations exactly.
			if maxIterations < 6 && current != maxIterations {
				return false
			}
			return true
		},
		gen.IntRange(0, 500),
		gen.IntRange(1, 200),
	))

	properties.Property("zero taskBudget behaves like an unsupplied budget", prop.ForAll(
		func(maxIterations int) bool {
			withZero := budget.NewIterationBudget(0, maxIterations)
			withExplicit := budget.NewIterationBudget(maxIterations, maxIterations)
			return withZero.Current() == withExplicit.Current()
		},
		gen.IntRange(1, 200),
	))

	properties.TestingRun(t)
}

// TestIterationBudgetMaybeExtendNeverExceedsCapProperty verifies that
// repeated extension attempts never push the live budget past Cap(), no
// matter how many times MaybeExtend is called.
func TestIterationBudgetMaybeExtendNeverExceedsCapProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated extension never exceeds the 1.5x cap", prop.ForAll(
		func(maxIterations, attempts int) bool {
			b := budget.NewIterationBudget(0, maxIterations)
			cap := b.Cap()
			for i := 0; i < attempts; i++ {
				b.MaybeExtend(true, 0)
				if b.Current() > cap {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
