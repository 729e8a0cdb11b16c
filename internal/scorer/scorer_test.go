package scorer_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/provider"
	"github.com/webpilot-ai/webpilot/internal/scorer"
)

type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int { return len(strings.Fields(text)) }

// fakeClient scores prompts by substring lookup and records every prompt it
// is handed.
type fakeClient struct {
	likelihoods map[string]float64
	generations []schemas.Generation
	failFor     string
	failWith    error
	calls       atomic.Int64

	mu      sync.Mutex
	prompts []string
}

func (f *fakeClient) Score(_ context.Context, req schemas.ScoreRequest) ([]schemas.Generation, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	if f.failFor != "" && strings.Contains(req.Prompt, f.failFor) {
		return nil, f.failWith
	}
	if req.MaxTokens > 0 {
		return f.generations, nil
	}
	for key, score := range f.likelihoods {
		if strings.Contains(req.Prompt, key) {
			return []schemas.Generation{{Likelihood: score}}, nil
		}
	}
	return []schemas.Generation{{Likelihood: -100}}, nil
}

func testConfig() config.ProviderConfig {
	return config.ProviderConfig{
		ContextLimit:    2048,
		MaxRetryElapsed: 2 * time.Second,
	}
}

func newScorer(t *testing.T, client *fakeClient) *scorer.Scorer {
	return scorer.New(client, wordTokenizer{}, testConfig(), 20, zaptest.NewLogger(t))
}

func TestRenderTemplate(t *testing.T) {
	rendered := scorer.RenderTemplate("do {action} on {element}", scorer.Option{
		"action":  "click",
		"element": "link [3]",
	})
	assert.Equal(t, "do click on link [3]", rendered)
}

func TestChooseReturnsBestOption(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &fakeClient{likelihoods: map[string]float64{
		"alpha": -0.1,
		"beta":  -2.3,
	}}
	s := newScorer(t, client)

	scored, err := s.Choose(context.Background(), "next: {x}",
		[]scorer.Option{{"x": "beta"}, {"x": "alpha"}}, schemas.LikelihoodAll, 1)

	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "alpha", scored[0].Option["x"])
	assert.InDelta(t, -0.1, scored[0].Score, 1e-9)
	assert.EqualValues(t, 2, client.calls.Load())
}

func TestChooseZeroOptions(t *testing.T) {
	s := newScorer(t, &fakeClient{})
	scored, err := s.Choose(context.Background(), "next: {x}", nil, schemas.LikelihoodAll, 3)
	require.NoError(t, err)
	assert.Empty(t, scored)
}

func TestChooseTopKClampsToSurvivors(t *testing.T) {
	client := &fakeClient{likelihoods: map[string]float64{
		"alpha": -0.5,
		"beta":  -0.2,
	}}
	s := newScorer(t, client)

	scored, err := s.Choose(context.Background(), "next: {x}",
		[]scorer.Option{{"x": "alpha"}, {"x": "beta"}}, schemas.LikelihoodAll, 10)

	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "beta", scored[0].Option["x"])
	assert.Equal(t, "alpha", scored[1].Option["x"])
}

func TestChooseExcludesFailedOption(t *testing.T) {
	permanent := &provider.Error{Op: "score", Class: provider.ClassPermanent, Err: errors.New("bad request")}
	client := &fakeClient{
		likelihoods: map[string]float64{"alpha": -0.1},
		failFor:     "broken",
		failWith:    permanent,
	}
	s := newScorer(t, client)

	scored, err := s.Choose(context.Background(), "next: {x}",
		[]scorer.Option{{"x": "broken"}, {"x": "alpha"}}, schemas.LikelihoodAll, 2)

	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "alpha", scored[0].Option["x"])
}

func TestChooseRetriesTransientFailure(t *testing.T) {
	transient := &provider.Error{Op: "score", Class: provider.ClassTransient, Err: errors.New("rate limited")}
	client := &fakeClient{likelihoods: map[string]float64{"alpha": -0.4}}

	var failures atomic.Int64
	wrapped := &flakyClient{inner: client, err: transient, failures: &failures, failCount: 1}
	s := scorer.New(wrapped, wordTokenizer{}, testConfig(), 20, zaptest.NewLogger(t))

	scored, err := s.Choose(context.Background(), "next: {x}",
		[]scorer.Option{{"x": "alpha"}}, schemas.LikelihoodAll, 1)

	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.EqualValues(t, 1, failures.Load())
}

// flakyClient fails the first failCount calls, then delegates.
type flakyClient struct {
	inner     schemas.Scorer
	err       error
	failures  *atomic.Int64
	failCount int64
}

func (f *flakyClient) Score(ctx context.Context, req schemas.ScoreRequest) ([]schemas.Generation, error) {
	if f.failures.Load() < f.failCount {
		f.failures.Add(1)
		return nil, f.err
	}
	return f.inner.Score(ctx, req)
}

func TestChooseTruncatesOversizedPromptBeforeScoring(t *testing.T) {
	client := &fakeClient{likelihoods: map[string]float64{"alpha": -0.2}}
	cfg := config.ProviderConfig{
		ContextLimit:    100,
		MaxRetryElapsed: 2 * time.Second,
	}
	s := scorer.New(client, wordTokenizer{}, cfg, 20, zaptest.NewLogger(t))

	// A template far over the 100-token budget; the tail carries the option.
	template := strings.Repeat("filler ", 3000) + "next: {x}"
	scored, err := s.Choose(context.Background(), template,
		[]scorer.Option{{"x": "alpha"}}, schemas.LikelihoodAll, 1)

	require.NoError(t, err)
	require.Len(t, scored, 1)

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.prompts, 1)
	sent := client.prompts[0]
	assert.LessOrEqual(t, wordTokenizer{}.Count(sent), 100,
		"the prompt must be inside the budget before the call is issued")
	assert.Contains(t, sent, "alpha", "left truncation must preserve the tail")
}

func TestGenerateTextPicksMostLikelySample(t *testing.T) {
	client := &fakeClient{generations: []schemas.Generation{
		{Text: "hello\nworld", Likelihood: -5},
		{Text: "  hi there  ", Likelihood: -1},
		{Text: "greetings", Likelihood: -3},
	}}
	s := newScorer(t, client)

	text, err := s.GenerateText(context.Background(), "type something: ")
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)
}

func TestGenerateTextCutsAtNewline(t *testing.T) {
	client := &fakeClient{generations: []schemas.Generation{
		{Text: "first line\nsecond line", Likelihood: -1},
	}}
	s := newScorer(t, client)

	text, err := s.GenerateText(context.Background(), "type something: ")
	require.NoError(t, err)
	assert.Equal(t, "first line", text)
}
