// Package budget implements the three coupled scalars that bound a run:
// iteration budget, token budget policy, and tier (§3, §4.1). Tier
// escalation itself lives in package tier; this package only resolves and
// enforces the iteration/token pair.
package budget

import "math"

// BroadExplorationTools is the fixed set of tool names considered "broad
// exploration" for the soft-limit restriction (§4.1). It is a package-level
// variable, enumerated literally rather than derived from tool metadata.
var BroadExplorationTools = map[string]struct{}{
	"glob_search":      {},
	"grep_search":      {},
	"fs_list":          {},
	"find_definition":  {},
	"code_stats":       {},
}

// TokenPolicy configures soft/hard token limits for one run (§4.1). Zero
// values are replaced by Resolve with the documented defaults.
type TokenPolicy struct {
	Active bool
	// MaxTokens is the token ceiling. Zero means "not enforced" even when
	// Active is true (§4.1 failure mode).
	MaxTokens int
	// SoftLimitRatio and HardLimitRatio are fractions of MaxTokens, each in
	// [0.1, 1.0], with HardLimitRatio >= SoftLimitRatio.
	SoftLimitRatio float64
	HardLimitRatio float64

	HardStop                            bool
	ForceSynthesisOnHardLimit           bool
	RestrictBroadExplorationAtSoftLimit bool
	AllowIterationBudgetExtension       bool
}

// DefaultTokenPolicy returns the policy applied when a run supplies no
// explicit token budget configuration (§4.1 defaults).
func DefaultTokenPolicy() TokenPolicy {
	return TokenPolicy{
		Active:                    false,
		SoftLimitRatio:            0.75,
		HardLimitRatio:            0.95,
		HardStop:                  true,
		ForceSynthesisOnHardLimit: true,
	}
}

// Resolve fills in zero-valued fields of p with the documented defaults and
// clamps ratios into their valid ranges. Resolve is idempotent; config.New
// and config.Load call it once when they build a Config.
func Resolve(p TokenPolicy) TokenPolicy {
	def := DefaultTokenPolicy()
	if p.SoftLimitRatio == 0 {
		p.SoftLimitRatio = def.SoftLimitRatio
	}
	if p.HardLimitRatio == 0 {
		p.HardLimitRatio = def.HardLimitRatio
	}
	p.SoftLimitRatio = clampRatio(p.SoftLimitRatio)
	p.HardLimitRatio = clampRatio(p.HardLimitRatio)
	if p.HardLimitRatio < p.SoftLimitRatio {
		p.HardLimitRatio = p.SoftLimitRatio
	}
	return p
}

func clampRatio(r float64) float64 {
	if r < 0.1 {
		return 0.1
	}
	if r > 1.0 {
		return 1.0
	}
	return r
}

// Disabled reports whether token enforcement is effectively off: the policy
// is inactive, or active with a zero MaxTokens (§4.1 failure mode).
func (p TokenPolicy) Disabled() bool {
	return !p.Active || p.MaxTokens == 0
}

// SoftLimit and HardLimit return the absolute token thresholds.
func (p TokenPolicy) SoftLimit() int { return int(math.Round(float64(p.MaxTokens) * p.SoftLimitRatio)) }
func (p TokenPolicy) HardLimit() int { return int(math.Round(float64(p.MaxTokens) * p.HardLimitRatio)) }

// SoftLimitReached reports whether tokensUsed has crossed the soft limit.
// Always false when the policy is disabled.
func (p TokenPolicy) SoftLimitReached(tokensUsed int) bool {
	if p.Disabled() {
		return false
	}
	return tokensUsed >= p.SoftLimit()
}

// HardLimitReached reports whether tokensUsed has crossed the hard limit.
// Always false when the policy is disabled (§8 boundary behavior).
func (p TokenPolicy) HardLimitReached(tokensUsed int) bool {
	if p.Disabled() {
		return false
	}
	return tokensUsed >= p.HardLimit()
}

// IterationBudget tracks the live, possibly-extended iteration cap for one
// run.
type IterationBudget struct {
	max     int // the static configuration ceiling (maxIterations)
	current int // the live budget, may be extended up to Cap()
}

// NewIterationBudget computes the initial budget per §4.1:
// clamp(taskBudget ?? maxIterations, 6, maxIterations).
//
// taskBudget of zero means "not supplied"; maxIterations must be positive.
func NewIterationBudget(taskBudget, maxIterations int) *IterationBudget {
	initial := taskBudget
	if initial == 0 {
		initial = maxIterations
	}
	if initial < 6 {
		initial = 6
	}
	if initial > maxIterations {
		initial = maxIterations
	}
	return &IterationBudget{max: maxIterations, current: initial}
}

// Current returns the live iteration budget.
func (b *IterationBudget) Current() int { return b.current }

// Cap returns ceil(maxIterations * 1.5), the absolute ceiling extension can
// never exceed (§4.1, §8 boundary behavior).
func (b *IterationBudget) Cap() int {
	return int(math.Ceil(float64(b.max) * 1.5))
}

// MaybeExtend extends the live budget by +1 iff all of: policy allows
// extension, iterationsSinceProgress == 0 (progress was just made), and the
// current budget is below maxIterations*1.5. Returns whether it extended.
func (b *IterationBudget) MaybeExtend(allowExtension bool, iterationsSinceProgress int) bool {
	if !allowExtension {
		return false
	}
	if iterationsSinceProgress != 0 {
		return false
	}
	if b.current >= b.Cap() {
		return false
	}
	b.current++
	return true
}
