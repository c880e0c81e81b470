// Package tier implements the tier selector (§4.6): picking a model
// capability tier per decision point, and deciding whether a run should
// request escalation to the next tier.
package tier

import "github.com/agentloop/core/agent"

// DecisionPoint names the place in the runtime where a tier choice is
// needed.
type DecisionPoint string

const (
	DecisionIntentInference  DecisionPoint = "intent_inference"
	DecisionSearchAssessment DecisionPoint = "search_assessment"
	DecisionValidation       DecisionPoint = "validation"
	DecisionReflection       DecisionPoint = "reflection"
)

// Policy configures the selector. SmartTiering, when false, disables
// per-decision-point tiering and per-run escalation: the selector always
// returns the run's current tier and EvaluateEscalationNeed always reports
// no escalation (§8: "With enableEscalation=false, the run never advances
// beyond startTier" - SmartTiering is the tier package's half of that
// contract; agentrun owns the enableEscalation wrapper itself).
type Policy struct {
	SmartTiering bool
}

// Hints carries task-specific signals the selector may use.
type Hints struct {
	Intent agent.Intent
}

// Selector picks tiers per decision point and evaluates escalation need.
type Selector struct {
	policy Policy
}

// New returns a Selector configured with policy.
func New(policy Policy) *Selector {
	return &Selector{policy: policy}
}

// Select returns the tier to use for one decision point. current is the
// run's current tier, used as the baseline when SmartTiering is disabled or
// when no rule below overrides it.
//
// Rules (grounded in the §4.6 intent): intent inference and search
// assessment are cheap classification tasks and always run at the lowest
// tier to conserve budget; validation (§4.12 verification) runs one tier
// above current, since judging a synthesized answer calls for a higher-tier
// model than the one that produced it, and stays at current when current is
// already the highest tier; reflection
// runs at current unless the run is stuck, in which case it escalates one
// tier to produce a sharper hypothesis.
func (s *Selector) Select(point DecisionPoint, current agent.Tier, stuck bool, hints Hints) agent.Tier {
	if !s.policy.SmartTiering {
		return current
	}
	switch point {
	case DecisionIntentInference, DecisionSearchAssessment:
		return agent.TierSmall
	case DecisionValidation:
		if higher, ok := current.Next(); ok {
			return higher
		}
		return current
	case DecisionReflection:
		if stuck {
			if higher, ok := current.Next(); ok {
				return higher
			}
		}
		return current
	default:
		return current
	}
}

// EscalationInput bundles the signals EvaluateEscalationNeed consults.
type EscalationInput struct {
	CurrentTier          agent.Tier
	Stuck                bool
	RemainingBudgetRatio float64 // remaining iteration budget / total, in [0,1]
	ToolErrorRate        float64 // failed tool calls / total tool calls this run, in [0,1]
}

// Decision is EvaluateEscalationNeed's result (§4.6).
type Decision struct {
	ShouldEscalate bool
	Reason         string
}

// EvaluateEscalationNeed decides whether the run should request a tier
// bump. Returns false unconditionally when SmartTiering is disabled or the
// run is already at the highest tier.
func (s *Selector) EvaluateEscalationNeed(in EscalationInput) Decision {
	if !s.policy.SmartTiering {
		return Decision{}
	}
	if _, ok := in.CurrentTier.Next(); !ok {
		return Decision{}
	}
	switch {
	case in.Stuck && in.ToolErrorRate > 0.5:
		return Decision{ShouldEscalate: true, Reason: "repeated tool failures while stalled"}
	case in.Stuck && in.RemainingBudgetRatio < 0.34:
		return Decision{ShouldEscalate: true, Reason: "stalled with iteration budget running low"}
	default:
		return Decision{}
	}
}
