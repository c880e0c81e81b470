package llmprovider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/core/agent/llmprovider"
	"github.com/agentloop/core/agent/model"
)

type stubProvider struct {
	err  error
	resp llmprovider.ChatResponse
}

func (s *stubProvider) ChatWithTools(ctx context.Context, messages []model.Message, opts llmprovider.ChatOptions) (llmprovider.ChatResponse, error) {
	return s.resp, s.err
}

func (s *stubProvider) Complete(ctx context.Context, prompt string, opts llmprovider.CompleteOptions) (llmprovider.CompleteResponse, error) {
	return llmprovider.CompleteResponse{}, s.err
}

func TestAdaptiveRateLimiter_BackoffHalvesBudgetOnRateLimitError(t *testing.T) {
	l := llmprovider.NewAdaptiveRateLimiter(1000, 1000)
	var lastTPM float64
	l.OnBackoff(func(newTPM float64) { lastTPM = newTPM })

	wrapped := l.Wrap(&stubProvider{err: llmprovider.ErrRateLimited})
	_, err := wrapped.ChatWithTools(context.Background(), nil, llmprovider.ChatOptions{})

	require.ErrorIs(t, err, llmprovider.ErrRateLimited)
	assert.Equal(t, 500.0, lastTPM)
}

func TestAdaptiveRateLimiter_SuccessPassesThrough(t *testing.T) {
	l := llmprovider.NewAdaptiveRateLimiter(1000, 1000)
	wrapped := l.Wrap(&stubProvider{resp: llmprovider.ChatResponse{Content: "ok"}})

	resp, err := wrapped.ChatWithTools(context.Background(), nil, llmprovider.ChatOptions{})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestAdaptiveRateLimiter_UnrelatedErrorDoesNotBackoff(t *testing.T) {
	l := llmprovider.NewAdaptiveRateLimiter(1000, 1000)
	called := false
	l.OnBackoff(func(float64) { called = true })

	wrapped := l.Wrap(&stubProvider{err: errors.New("boom")})
	_, _ = wrapped.ChatWithTools(context.Background(), nil, llmprovider.ChatOptions{})

	assert.False(t, called)
}
