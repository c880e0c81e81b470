package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/core/agent/config"
)

func TestDefault_AppliesDocumentedDefaults(t *testing.T) {
	os.Unsetenv("KB_AGENT_SYNTHESIS_TIMEOUT_MS")
	c := config.Default()
	assert.Equal(t, 20, c.MaxIterations)
	assert.True(t, c.SmartTiering)
	assert.True(t, c.EnableEscalation)
	assert.Equal(t, "medium", c.StartTier)
	assert.Equal(t, 3, c.StuckThreshold)
	assert.Equal(t, 3, c.LoopWindow)
	assert.Equal(t, 3, c.NoResultConsecutive)
	assert.Equal(t, 4, c.ReflectEvery)
	assert.Equal(t, 90*time.Second, c.SynthesisTimeout)
}

func TestDefault_ReadsSynthesisTimeoutFromEnv(t *testing.T) {
	t.Setenv("KB_AGENT_SYNTHESIS_TIMEOUT_MS", "45000")
	c := config.Default()
	assert.Equal(t, 45*time.Second, c.SynthesisTimeout)
}

func TestDefault_InvalidEnvValueFallsBackToDefault(t *testing.T) {
	t.Setenv("KB_AGENT_SYNTHESIS_TIMEOUT_MS", "not-a-number")
	c := config.Default()
	assert.Equal(t, 90*time.Second, c.SynthesisTimeout)
}

func TestDefault_OutOfRangeEnvValueFallsBackToDefault(t *testing.T) {
	t.Setenv("KB_AGENT_SYNTHESIS_TIMEOUT_MS", "5000")
	c := config.Default()
	assert.Equal(t, 90*time.Second, c.SynthesisTimeout)

	t.Setenv("KB_AGENT_SYNTHESIS_TIMEOUT_MS", "600000")
	c = config.Default()
	assert.Equal(t, 90*time.Second, c.SynthesisTimeout)
}

func TestNew_AppliesOptionsOverDefaults(t *testing.T) {
	c := config.New(
		config.WithMaxIterations(10),
		config.WithEscalation(false),
		config.WithSynthesisTimeout(30*time.Second),
	)
	assert.Equal(t, 10, c.MaxIterations)
	assert.False(t, c.EnableEscalation)
	assert.Equal(t, 30*time.Second, c.SynthesisTimeout)
	assert.True(t, c.TokenPolicy.HardStop, "New resolves the token policy defaults")
}

func TestWithSynthesisTimeout_ClampsOutOfRangeValues(t *testing.T) {
	c := config.New(config.WithSynthesisTimeout(1 * time.Second))
	assert.Equal(t, 90*time.Second, c.SynthesisTimeout)

	c = config.New(config.WithSynthesisTimeout(10 * time.Minute))
	assert.Equal(t, 90*time.Second, c.SynthesisTimeout)
}

func TestLoad_FileOverridesDefaultsAndOptsWinLast(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/agent.yaml"
	require.NoError(t, os.WriteFile(path, []byte("maxIterations: 12\nstartTier: large\n"), 0o600))

	c, err := config.Load(path, config.WithMaxIterations(99))
	require.NoError(t, err)
	assert.Equal(t, 99, c.MaxIterations, "options apply after the file and win")
	assert.Equal(t, "large", c.StartTier, "unset-by-opt fields keep the file's value")
	assert.True(t, c.EnableEscalation, "fields absent from the file keep Default()'s value")
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := config.Load("/nonexistent/agent.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/agent.yaml"
	require.NoError(t, os.WriteFile(path, []byte("maxIterations: [this is not valid"), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}
