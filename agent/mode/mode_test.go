package mode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentloop/core/agent"
	"github.com/agentloop/core/agent/mode"
)

func TestNew_RegistersTheFiveBuiltins(t *testing.T) {
	r := mode.New()
	for _, name := range []string{"execute", "plan", "spec", "debug", "edit"} {
		m, ok := r.Get(name)
		assert.True(t, ok, "missing built-in mode %q", name)
		assert.Equal(t, name, m.Name)
	}
	assert.Len(t, r.Names(), 5)
}

func TestNew_ExtraModeAugmentsBuiltins(t *testing.T) {
	custom := mode.Mode{Name: "review", DefaultIntent: agent.IntentAnalysis}
	r := mode.New(custom)
	m, ok := r.Get("review")
	assert.True(t, ok)
	assert.Equal(t, agent.IntentAnalysis, m.DefaultIntent)
	assert.Len(t, r.Names(), 6)
}

func TestNew_ExtraModeCanOverrideABuiltin(t *testing.T) {
	override := mode.Mode{Name: "edit", DefaultIntent: agent.IntentAnalysis}
	r := mode.New(override)
	m, _ := r.Get("edit")
	assert.Equal(t, agent.IntentAnalysis, m.DefaultIntent)
	assert.Len(t, r.Names(), 5)
}

func TestMode_ToolSet_NilAllowListMeansNoRestriction(t *testing.T) {
	m := mode.Mode{Name: "execute"}
	declared := []string{"fs_read", "fs_write", "shell_exec"}
	assert.Equal(t, declared, m.ToolSet(declared))
}

func TestMode_ToolSet_IntersectsWithAllowList(t *testing.T) {
	r := mode.New()
	planMode, _ := r.Get("plan")
	declared := []string{"fs_read", "fs_write", "grep_search", "shell_exec"}
	got := planMode.ToolSet(declared)
	assert.ElementsMatch(t, []string{"fs_read", "grep_search"}, got)
}

func TestMode_ToolSet_EmptyDeclaredYieldsEmpty(t *testing.T) {
	r := mode.New()
	planMode, _ := r.Get("plan")
	assert.Empty(t, planMode.ToolSet(nil))
}
