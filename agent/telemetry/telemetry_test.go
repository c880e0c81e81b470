package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/codes"

	"github.com/agentloop/core/agent/telemetry"
)

func TestNoopLogger_DoesNotPanic(t *testing.T) {
	l := telemetry.NewNoopLogger()
	ctx := context.Background()
	assert.NotPanics(t, func() {
		l.Debug(ctx, "debug", "k", "v")
		l.Info(ctx, "info", "k", 1)
		l.Warn(ctx, "warn")
		l.Error(ctx, "error", "err", "boom")
	})
}

func TestNoopMetrics_DoesNotPanic(t *testing.T) {
	m := telemetry.NewNoopMetrics()
	assert.NotPanics(t, func() {
		m.IncCounter("agent_iterations_total", 1, "tier", "medium")
		m.RecordTimer("agent_tool_calls_total", 10*time.Millisecond)
		m.RecordGauge("agent_tokens_used_total", 42)
	})
}

func TestNoopTracer_StartAndSpanAreUsable(t *testing.T) {
	tr := telemetry.NewNoopTracer()
	ctx, span := tr.Start(context.Background(), "run")
	assert.NotNil(t, span)
	assert.NotPanics(t, func() {
		span.AddEvent("iteration", "n", 1)
		span.SetStatus(codes.Ok, "done")
		span.RecordError(nil)
		span.End()
	})

	same := tr.Span(ctx)
	assert.NotNil(t, same)
}

func TestNewClueConstructors_DoNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = telemetry.NewClueLogger()
		_ = telemetry.NewClueMetrics()
		_ = telemetry.NewClueTracer()
	})
}

func TestClueTracer_StartAndEndASpan(t *testing.T) {
	tr := telemetry.NewClueTracer()
	var span telemetry.Span
	assert.NotPanics(t, func() {
		_, span = tr.Start(context.Background(), "clue-span-test")
		span.SetStatus(codes.Ok, "")
		span.End()
	})
}

func TestClueMetrics_RecordingDoesNotPanic(t *testing.T) {
	m := telemetry.NewClueMetrics()
	assert.NotPanics(t, func() {
		m.IncCounter("agent_tier_escalations_total", 1, "from", "small", "to", "medium")
		m.RecordTimer("agent_loop_detected_total", time.Second)
		m.RecordGauge("agent_tokens_used_total", 100)
	})
}
