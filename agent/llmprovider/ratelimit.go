package llmprovider

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/agentloop/core/agent/model"
)

// ErrRateLimited signals that the upstream provider itself rejected a
// request for exceeding its rate limit, distinct from context deadline
// errors raised by the local limiter.
var ErrRateLimited = errors.New("llmprovider: rate limited by upstream")

// AdaptiveRateLimiter applies an AIMD token bucket in front of a Provider: it
// estimates the token cost of each call, blocks until capacity is
// available, and halves its budget whenever a call surfaces ErrRateLimited,
// recovering gradually on successful calls. One instance is process-local
// and meant to sit once per tier, shared across every Provider call that
// tier makes - the execution loop's natural backpressure point (§5).
type AdaptiveRateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM float64
	minTPM     float64
	maxTPM     float64

	recoveryRate float64

	onBackoff func(newTPM float64)
}

// NewAdaptiveRateLimiter builds a limiter with an initial and maximum
// tokens-per-minute budget. initialTPM defaults to 60000 when non-positive.
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// OnBackoff registers a callback invoked whenever the limiter halves its
// budget in response to an upstream rate-limit error. Useful for telemetry.
func (l *AdaptiveRateLimiter) OnBackoff(fn func(newTPM float64)) { l.onBackoff = fn }

// Wrap returns a Provider that enforces the limiter around every call to
// next.
func (l *AdaptiveRateLimiter) Wrap(next Provider) Provider {
	return &limitedProvider{next: next, limiter: l}
}

type limitedProvider struct {
	next    Provider
	limiter *AdaptiveRateLimiter
}

func (p *limitedProvider) ChatWithTools(ctx context.Context, messages []model.Message, opts ChatOptions) (ChatResponse, error) {
	if err := p.limiter.wait(ctx, estimateTokens(messages, opts.MaxTokens)); err != nil {
		return ChatResponse{}, err
	}
	resp, err := p.next.ChatWithTools(ctx, messages, opts)
	p.limiter.observe(err)
	return resp, err
}

func (p *limitedProvider) Complete(ctx context.Context, prompt string, opts CompleteOptions) (CompleteResponse, error) {
	if err := p.limiter.wait(ctx, estimateTokens(nil, opts.MaxTokens)+len(prompt)/4); err != nil {
		return CompleteResponse{}, err
	}
	resp, err := p.next.Complete(ctx, prompt, opts)
	p.limiter.observe(err)
	return resp, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, tokens int) error {
	if tokens < 1 {
		tokens = 1
	}
	return l.limiter.WaitN(ctx, tokens)
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, ErrRateLimited) {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
	cb := l.onBackoff
	l.mu.Unlock()
	if cb != nil {
		cb(newTPM)
	}
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentTPM >= l.maxTPM {
		return
	}
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

// estimateTokens is a rough, deterministic estimate of the request's token
// cost used purely to size the limiter's WaitN call, not billed usage.
func estimateTokens(messages []model.Message, maxTokens int) int {
	total := maxTokens
	for _, m := range messages {
		total += len(m.Text) / 4
		for _, tc := range m.ToolCalls {
			total += len(tc.Name) + 8
		}
	}
	return total
}
