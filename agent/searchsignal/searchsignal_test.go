package searchsignal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentloop/core/agent"
	"github.com/agentloop/core/agent/searchsignal"
)

func TestObserve_FallbackNoResultMarker(t *testing.T) {
	tr := searchsignal.New(nil, agent.IntentDiscovery)
	sig := tr.Observe(context.Background(), []string{"search returned no matches for the query"})
	assert.Equal(t, searchsignal.SignalNone, sig)
}

func TestObserve_FallbackStrongEvidence(t *testing.T) {
	tr := searchsignal.New(nil, agent.IntentDiscovery)
	sig := tr.Observe(context.Background(), []string{strRepeat("token ", 40)})
	assert.Equal(t, searchsignal.SignalStrong, sig)
	assert.Equal(t, 1, tr.Hits())
}

func TestShouldConcludeNoResultEarly_RequiresDiscoveryIntent(t *testing.T) {
	tr := searchsignal.New(nil, agent.IntentAction)
	for i := 0; i < 5; i++ {
		tr.Observe(context.Background(), []string{"no matches"})
	}
	assert.False(t, tr.ShouldConcludeNoResultEarly(3), "action intent never concludes early")
}

func TestShouldConcludeNoResultEarly_TripsAfterConsecutiveNone(t *testing.T) {
	tr := searchsignal.New(nil, agent.IntentDiscovery)
	tr.Observe(context.Background(), []string{"no matches"})
	tr.Observe(context.Background(), []string{"no matches"})
	assert.False(t, tr.ShouldConcludeNoResultEarly(3))

	tr.Observe(context.Background(), []string{"no matches"})
	assert.True(t, tr.ShouldConcludeNoResultEarly(3))
}

func TestObserve_PartialResetsConsecutiveNone(t *testing.T) {
	tr := searchsignal.New(nil, agent.IntentDiscovery)
	tr.Observe(context.Background(), []string{"no matches"})
	tr.Observe(context.Background(), []string{"no matches"})
	tr.Observe(context.Background(), []string{"short snippet"})
	assert.False(t, tr.ShouldConcludeNoResultEarly(3))
}

type fakeClassifier struct {
	sig searchsignal.Signal
	err error
}

func (f fakeClassifier) Classify(context.Context, []string) (searchsignal.Signal, error) {
	return f.sig, f.err
}

func TestObserve_UsesClassifierWhenAvailable(t *testing.T) {
	tr := searchsignal.New(fakeClassifier{sig: searchsignal.SignalStrong}, agent.IntentDiscovery)
	sig := tr.Observe(context.Background(), []string{"x"})
	assert.Equal(t, searchsignal.SignalStrong, sig)
}

func TestObserve_FallsBackOnClassifierError(t *testing.T) {
	tr := searchsignal.New(fakeClassifier{err: assertErr{}}, agent.IntentDiscovery)
	sig := tr.Observe(context.Background(), []string{"no matches"})
	assert.Equal(t, searchsignal.SignalNone, sig)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func strRepeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
