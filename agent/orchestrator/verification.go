package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentloop/core/agent"
	"github.com/agentloop/core/agent/llmprovider"
	"github.com/agentloop/core/agent/stream"
	"github.com/agentloop/core/agent/tier"
)

// VerificationThresholds configures when a synthesized answer is accepted
// without another improvement round (§4.12).
type VerificationThresholds struct {
	MinConfidence         float64
	MinCompleteness       float64
	MaxUnverifiedMentions int
}

func defaultThresholds() VerificationThresholds {
	return VerificationThresholds{MinConfidence: 0.7, MinCompleteness: 0.7, MaxUnverifiedMentions: 0}
}

// verificationJudgment is the verification call's structured output.
type verificationJudgment struct {
	Confidence         float64  `json:"confidence"`
	Completeness       float64  `json:"completeness"`
	UnverifiedMentions []string `json:"unverifiedMentions"`
	Gaps               []string `json:"gaps"`
}

// passes reports whether j clears every threshold in t.
func (j verificationJudgment) passes(t VerificationThresholds) bool {
	return j.Confidence >= t.MinConfidence &&
		j.Completeness >= t.MinCompleteness &&
		len(j.UnverifiedMentions) <= t.MaxUnverifiedMentions
}

// verifyWithRetries judges answer against findings, and on a failing
// judgment runs up to cfg.MaxImprovementRounds remediation-then-resynthesize
// cycles (§4.12): gap-filling subtasks when the judgment names at least one
// and at most cfg.MaxGapFillSubtasks gaps (none when it names more), then a
// re-synthesis carrying a do-not-repeat block (the unverified mentions) and
// a guidance block (the gaps). It returns the final verified flag and the
// (possibly re-synthesized) answer.
func (o *Orchestrator) verifyWithRetries(ctx context.Context, task agent.Task, findings []researchFinding, answer string, runID, sessionID string) (bool, string) {
	thresholds := defaultThresholds()
	selector := tier.New(tier.Policy{SmartTiering: true})

	current := answer
	var doNotRepeat, guidance []string

	for round := 0; round <= o.cfg.MaxImprovementRounds; round++ {
		o.emit(sessionID, stream.EventVerificationStart, map[string]any{"round": round})
		judgment, ok := o.judge(ctx, selector, task, findings, current)
		o.emit(sessionID, stream.EventVerificationComplete, map[string]any{
			"round": round, "confidence": judgment.Confidence, "completeness": judgment.Completeness,
		})
		if !ok {
			// Provider failure: accept what we have rather than loop forever
			// on a collaborator that cannot judge anything this run.
			return true, current
		}
		if judgment.passes(thresholds) {
			return true, current
		}
		if round == o.cfg.MaxImprovementRounds {
			break
		}

		doNotRepeat = judgment.UnverifiedMentions
		guidance = judgment.Gaps

		if len(judgment.Gaps) > 0 && len(judgment.Gaps) <= o.cfg.MaxGapFillSubtasks {
			findings = append(findings, o.gapFillFindings(ctx, task, judgment.Gaps, runID, sessionID)...)
		}
		current = o.synthesize(ctx, task, findings, doNotRepeat, guidance)
	}
	return false, current
}

// judge runs the verification LLM call at the tier the selector picks for
// tier.DecisionValidation starting from the large (synthesis) tier; large
// being the highest tier, that is the large tier's provider, the same tier
// that synthesized the answer. ok is false only on provider failure or
// an unparseable response, signaling the caller to accept the current
// answer rather than spin on a broken collaborator.
func (o *Orchestrator) judge(ctx context.Context, selector *tier.Selector, task agent.Task, findings []researchFinding, answer string) (verificationJudgment, bool) {
	t := selector.Select(tier.DecisionValidation, agent.TierLarge, false, tier.Hints{})
	prov := o.cfg.Providers.Get(t)
	if prov == nil {
		return verificationJudgment{}, false
	}
	prompt := fmt.Sprintf(
		"Task: %s\n\nFindings:\n%s\n\nProposed answer:\n%s\n\n"+
			"Judge the proposed answer against the findings. Respond with JSON: "+
			"{\"confidence\": 0-1, \"completeness\": 0-1, \"unverifiedMentions\": [\"...\"], "+
			"\"gaps\": [\"...\"]}. unverifiedMentions are claims in the answer not backed by "+
			"any finding; gaps are concrete follow-up subtasks that would close a missing "+
			"piece of the task.",
		task.Text, renderFindings(findings), answer)
	resp, err := prov.Complete(ctx, prompt, llmprovider.CompleteOptions{MaxTokens: 400})
	if err != nil {
		return verificationJudgment{}, false
	}
	var j verificationJudgment
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &j); err != nil {
		return verificationJudgment{}, false
	}
	return j, true
}

// gapFillFindings runs one medium-tier Agent per gap (the caller only calls
// it with at most MaxGapFillSubtasks gaps) and folds each into a researchFinding, the same
// shape runResearch's own subtasks produce.
func (o *Orchestrator) gapFillFindings(ctx context.Context, task agent.Task, gaps []string, runID, sessionID string) []researchFinding {
	out := make([]researchFinding, 0, len(gaps))
	for i, gap := range gaps {
		subtaskID := agent.NewSubtaskID()
		o.emit(sessionID, stream.EventSubtaskStart, map[string]any{"subtaskId": subtaskID, "subtask": gap, "index": i, "gapFill": true})

		agentID := agent.NewAgentID()
		a := o.newAgent(agent.Task{ID: subtaskID, Text: gap, TargetDir: task.TargetDir}, sessionID, runID, agentID, agent.TierMedium, nil)
		result, err := a.Run(ctx, o.toolNames())
		o.retireAgent(agentID)
		if err != nil {
			continue
		}
		o.emit(sessionID, stream.EventSubtaskEnd, map[string]any{"subtaskId": subtaskID, "success": result.Success, "gapFill": true})
		out = append(out, researchFinding{Subtask: gap, Summary: result.Summary, Success: result.Success})
	}
	return out
}
