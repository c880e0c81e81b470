// Package config loads the static configuration an Agent/Orchestrator
// deployment is constructed from: iteration ceilings, token-budget policy
// defaults, tier/escalation policy, and the forced-synthesis timeout. It
// favors typed config loaded once at startup over ambient env lookups, with
// a single documented exception: the forced synthesis timeout, which is
// configured as an environment variable (§6).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentloop/core/agent/budget"
)

// synthesisTimeoutEnv is the one environment variable this module reads
// (§6).
const synthesisTimeoutEnv = "KB_AGENT_SYNTHESIS_TIMEOUT_MS"

const (
	defaultSynthesisTimeout = 90 * time.Second
	minSynthesisTimeout     = 15 * time.Second
	maxSynthesisTimeout     = 300 * time.Second
)

// Config bundles every static setting a Run is constructed from.
type Config struct {
	MaxIterations int              `yaml:"maxIterations"`
	TokenPolicy   budget.TokenPolicy `yaml:"tokenPolicy"`

	SmartTiering     bool `yaml:"smartTiering"`
	EnableEscalation bool `yaml:"enableEscalation"`
	StartTier        string `yaml:"startTier"`

	StuckThreshold      int `yaml:"stuckThreshold"`
	LoopWindow          int `yaml:"loopWindow"`
	NoResultConsecutive int `yaml:"noResultConsecutive"`
	ReflectEvery        int `yaml:"reflectEvery"`

	SynthesisTimeout time.Duration `yaml:"-"`
}

// Option applies a programmatic override to a Config, for callers that
// construct configuration in code rather than from a file (tests, the CLI's
// flag overlay).
type Option func(*Config)

// WithMaxIterations overrides MaxIterations.
func WithMaxIterations(n int) Option { return func(c *Config) { c.MaxIterations = n } }

// WithTokenPolicy overrides the token budget policy.
func WithTokenPolicy(p budget.TokenPolicy) Option { return func(c *Config) { c.TokenPolicy = p } }

// WithEscalation toggles tier escalation (§4.10).
func WithEscalation(enabled bool) Option { return func(c *Config) { c.EnableEscalation = enabled } }

// WithSynthesisTimeout overrides the forced-synthesis timeout; a value
// outside [15s, 300s] falls back to the 90s default, the same way the
// environment variable does.
func WithSynthesisTimeout(d time.Duration) Option {
	return func(c *Config) { c.SynthesisTimeout = clampSynthesisTimeout(d) }
}

// Default returns a Config with the documented defaults (§4.1, §4.2, §4.4,
// §4.9) applied.
func Default() Config {
	return Config{
		MaxIterations:       20,
		TokenPolicy:         budget.DefaultTokenPolicy(),
		SmartTiering:        true,
		EnableEscalation:    true,
		StartTier:           "medium",
		StuckThreshold:      3,
		LoopWindow:          3,
		NoResultConsecutive: 3,
		ReflectEvery:        4,
		SynthesisTimeout:    synthesisTimeoutFromEnv(),
	}
}

// Load reads a YAML config file, applying Default() first so an unset field
// in the file keeps its documented default, then layers opts on top.
func Load(path string, opts ...Option) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	cfg.TokenPolicy = budget.Resolve(cfg.TokenPolicy)
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg, nil
}

// New builds a Config from Default() plus opts, without reading a file -
// used by tests and by callers that configure entirely in code.
func New(opts ...Option) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.TokenPolicy = budget.Resolve(cfg.TokenPolicy)
	return cfg
}

// synthesisTimeoutFromEnv reads KB_AGENT_SYNTHESIS_TIMEOUT_MS, falling back
// to the 90s default on an absent or invalid value (§6).
func synthesisTimeoutFromEnv() time.Duration {
	raw := os.Getenv(synthesisTimeoutEnv)
	if raw == "" {
		return defaultSynthesisTimeout
	}
	ms, err := strconv.Atoi(raw)
	if err != nil {
		return defaultSynthesisTimeout
	}
	return clampSynthesisTimeout(time.Duration(ms) * time.Millisecond)
}

func clampSynthesisTimeout(d time.Duration) time.Duration {
	if d < minSynthesisTimeout || d > maxSynthesisTimeout {
		return defaultSynthesisTimeout
	}
	return d
}
