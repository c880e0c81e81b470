// Command agentloop is a minimal end-to-end wiring demo: one orchestrator,
// a file-backed session store under ./.agentloop-data, and a stub provider answering every call with
// a canned report. Swap stubProvider for anthropic.New/openai.New and wire
// real tool handlers into the registry to run it against a live model; the
// scheduler core itself (everything under agent/) takes no dependency on
// either.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/agentloop/core/agent"
	"github.com/agentloop/core/agent/agentrun"
	"github.com/agentloop/core/agent/config"
	"github.com/agentloop/core/agent/execloop"
	"github.com/agentloop/core/agent/llmprovider"
	"github.com/agentloop/core/agent/model"
	"github.com/agentloop/core/agent/orchestrator"
	"github.com/agentloop/core/agent/session"
	"github.com/agentloop/core/agent/stream"
	"github.com/agentloop/core/agent/telemetry"
	"github.com/agentloop/core/agent/toolregistry"
)

// stubProvider answers every ChatWithTools call by reporting a fixed
// answer, and every Complete call with a fixed classification/judgment
// string - enough to drive the orchestrator through the simple path
// end to end without a live model.
type stubProvider struct{ answer string }

func (p stubProvider) ChatWithTools(ctx context.Context, messages []model.Message, opts llmprovider.ChatOptions) (llmprovider.ChatResponse, error) {
	return llmprovider.ChatResponse{
		ToolCalls: []llmprovider.ToolCallOut{{
			ID: "call-0", Name: execloop.ReportToolName, Input: map[string]any{"answer": p.answer},
		}},
		StopReason: "tool_use",
	}, nil
}

func (p stubProvider) Complete(ctx context.Context, prompt string, opts llmprovider.CompleteOptions) (llmprovider.CompleteResponse, error) {
	return llmprovider.CompleteResponse{Content: "simple"}, nil
}

func main() {
	ctx := context.Background()

	baseDir := "./.agentloop-data"
	store, err := session.New(baseDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "session store:", err)
		os.Exit(1)
	}

	bus := stream.NewBus(store.Sink())
	defer store.Flush("session-demo")

	reg := toolregistry.New()
	_ = reg.Register(toolregistry.Definition{
		Name:        execloop.ReportToolName,
		Description: "Report the finished answer and stop.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"answer": map[string]any{"type": "string"}},
			"required":   []any{"answer"},
		},
	}, func(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
		// Never actually dispatched: execloop intercepts report_complete
		// from the raw tool-call list before reaching the registry.
		return agent.ToolResult{ID: call.ID, Success: true}, nil
	}, "")

	provider := stubProvider{answer: "42"}
	providers := agentrun.Providers{
		agent.TierSmall:  provider,
		agent.TierMedium: provider,
		agent.TierLarge:  provider,
	}

	cfg := config.Default()
	agentCfg := agentrun.Config{
		Providers:           providers,
		Registry:            agentrun.NewRegistryAdapter(reg),
		Bus:                 bus,
		Store:               store,
		MaxIterations:       cfg.MaxIterations,
		TaskBudget:          cfg.MaxIterations,
		TokenPolicy:         cfg.TokenPolicy,
		StuckThreshold:      cfg.StuckThreshold,
		LoopWindow:          cfg.LoopWindow,
		NoResultConsecutive: cfg.NoResultConsecutive,
		ReflectEvery:        cfg.ReflectEvery,
		SynthesisTimeout:    cfg.SynthesisTimeout,
		SmartTiering:        cfg.SmartTiering,
		EnableEscalation:    cfg.EnableEscalation,
		StartTier:           agent.TierMedium,
		Telemetry:           execloop.Telemetry{Logger: telemetry.NewNoopLogger(), Metrics: telemetry.NewNoopMetrics(), Tracer: telemetry.NewNoopTracer()},
	}

	orch := orchestrator.New(orchestrator.Config{
		AgentConfig: agentCfg,
		Bus:         bus,
		Providers:   providers,
		ToolNames:   []string{execloop.ReportToolName},
	})

	task := agent.Task{ID: "demo-task", Text: "What is the answer to everything?"}
	sessionID := "session-demo"

	result, err := orch.Run(ctx, task, sessionID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		os.Exit(1)
	}
	fmt.Println("success:", result.Success)
	fmt.Println("summary:", result.Summary)
	fmt.Println("iterations:", result.Iterations)
}
