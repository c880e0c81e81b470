package budget_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/core/agent/budget"
)

func TestNewIterationBudget_ClampsToFloor(t *testing.T) {
	b := budget.NewIterationBudget(0, 3)
	assert.Equal(t, 3, b.Current(), "maxIterations below the floor wins over the floor")

	b = budget.NewIterationBudget(2, 20)
	assert.Equal(t, 6, b.Current(), "taskBudget below the floor is raised to 6")

	b = budget.NewIterationBudget(0, 20)
	assert.Equal(t, 20, b.Current(), "no taskBudget falls back to maxIterations")

	b = budget.NewIterationBudget(100, 20)
	assert.Equal(t, 20, b.Current(), "taskBudget above maxIterations is capped")
}

func TestIterationBudget_MaybeExtend(t *testing.T) {
	b := budget.NewIterationBudget(0, 10)
	require.Equal(t, 10, b.Current())
	require.Equal(t, 15, b.Cap())

	assert.False(t, b.MaybeExtend(false, 0), "extension disallowed by policy")
	assert.Equal(t, 10, b.Current())

	assert.False(t, b.MaybeExtend(true, 1), "no progress this iteration")
	assert.Equal(t, 10, b.Current())

	assert.True(t, b.MaybeExtend(true, 0))
	assert.Equal(t, 11, b.Current())

	for i := 0; i < 10; i++ {
		b.MaybeExtend(true, 0)
	}
	assert.Equal(t, b.Cap(), b.Current(), "extension never exceeds ceil(maxIterations * 1.5)")
	assert.False(t, b.MaybeExtend(true, 0), "at the cap, further extension is a no-op")
}

func TestTokenPolicy_Disabled(t *testing.T) {
	p := budget.Resolve(budget.TokenPolicy{Active: false, MaxTokens: 1000})
	assert.True(t, p.Disabled())
	assert.False(t, p.HardLimitReached(1_000_000))

	p = budget.Resolve(budget.TokenPolicy{Active: true, MaxTokens: 0})
	assert.True(t, p.Disabled())
	assert.False(t, p.SoftLimitReached(1))
}

func TestTokenPolicy_Defaults(t *testing.T) {
	p := budget.Resolve(budget.TokenPolicy{Active: true, MaxTokens: 10_000})
	assert.Equal(t, 0.75, p.SoftLimitRatio)
	assert.Equal(t, 0.95, p.HardLimitRatio)
	assert.Equal(t, 7500, p.SoftLimit())
	assert.Equal(t, 9500, p.HardLimit())

	assert.False(t, p.SoftLimitReached(7499))
	assert.True(t, p.SoftLimitReached(7500))
	assert.False(t, p.HardLimitReached(9499))
	assert.True(t, p.HardLimitReached(9500))
}

func TestTokenPolicy_HardNeverBelowSoft(t *testing.T) {
	p := budget.Resolve(budget.TokenPolicy{Active: true, MaxTokens: 100, SoftLimitRatio: 0.9, HardLimitRatio: 0.2})
	assert.Equal(t, p.SoftLimitRatio, p.HardLimitRatio, "hard ratio below soft ratio is raised to match")
}
