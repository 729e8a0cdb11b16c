// File: internal/provider/openai.go

// Package provider adapts a hosted OpenAI-compatible API to the two
// capabilities the decision engine consumes: text embedding and
// likelihood scoring / short generation. It never retries by itself; it
// classifies failures (see errors.go) and lets callers apply their policy.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/audit"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// Client implements schemas.Embedder and schemas.Scorer over the legacy
// completion API, which exposes per-token log probabilities. An optional
// audit log captures the exact prompt and response of every scoring call.
type Client struct {
	api     *openai.Client
	cfg     config.ProviderConfig
	logger  *zap.Logger
	limiter *rate.Limiter
	audit   *audit.Log
}

// Statically assert the capability contracts.
var (
	_ schemas.Embedder = (*Client)(nil)
	_ schemas.Scorer   = (*Client)(nil)
)

// New validates credentials and builds the client. A missing API key is a
// fatal configuration error: callers must not start a session without one.
func New(cfg config.ProviderConfig, auditLog *audit.Log, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider API key is required")
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		apiCfg.BaseURL = cfg.Endpoint
	}
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.APITimeout}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		cfg:     cfg,
		logger:  logger.Named("provider"),
		limiter: limiter,
		audit:   auditLog,
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, wrap("embed", err)
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, wrap("embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &Error{
			Op:    "embed",
			Class: ClassPermanent,
			Err:   fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
		}
	}

	vectors := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float64, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float64(v)
		}
		vectors[i] = vec
	}

	c.logger.Debug("Embedded texts",
		zap.Int("count", len(texts)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens))
	return vectors, nil
}

// Score calls the completion endpoint. With MaxTokens 0 the prompt is echoed
// with log probabilities and the single returned Generation carries the
// likelihood of the prompt itself; with MaxTokens > 0, NumSamples
// continuations are sampled and each carries the likelihood span selected by
// req.Likelihood: its own generated tokens (LikelihoodGeneration) or the
// prompt plus the generation (LikelihoodAll).
func (c *Client) Score(ctx context.Context, req schemas.ScoreRequest) ([]schemas.Generation, error) {
	if err := c.wait(ctx); err != nil {
		return nil, wrap("score", err)
	}

	scoringOnly := req.MaxTokens == 0
	// LikelihoodAll needs the prompt's own token logprobs, which only come
	// back when the prompt is echoed.
	echo := scoringOnly || req.Likelihood == schemas.LikelihoodAll

	apiReq := openai.CompletionRequest{
		Model:       c.cfg.Model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		LogProbs:    1,
		Echo:        echo,
	}
	if !scoringOnly && req.NumSamples > 1 {
		apiReq.N = req.NumSamples
	}
	if scoringOnly {
		// The API treats max_tokens 0 as "use the default"; ask for a single
		// token and score the echoed prompt only.
		apiReq.MaxTokens = 1
		apiReq.Temperature = 0
	}

	resp, err := c.api.CreateCompletion(ctx, apiReq)
	if err != nil {
		return nil, wrap("score", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Op: "score", Class: ClassPermanent, Err: fmt.Errorf("no choices returned")}
	}

	generations := make([]schemas.Generation, 0, len(resp.Choices))
	var auditTexts []string
	for _, choice := range resp.Choices {
		gen := schemas.Generation{Text: choice.Text}
		logs := choice.LogProbs.TokenLogprobs
		switch {
		case scoringOnly:
			// The score covers the echoed prompt only; drop the single forced
			// completion token from both the text and the sum. The first
			// echoed token has no conditional probability and comes back as
			// zero, which leaves the sum unaffected.
			if n := len(logs); n > 0 {
				logs = logs[:n-1]
			}
			gen.Text = ""
			gen.Likelihood = sumLogProbs(logs, 0)
		case echo:
			// Prompt and continuation both count.
			gen.Text = strings.TrimPrefix(choice.Text, req.Prompt)
			gen.Likelihood = sumLogProbs(logs, 0)
		default:
			gen.Likelihood = sumLogProbs(logs, len(logs)-req.MaxTokens)
		}
		generations = append(generations, gen)
		auditTexts = append(auditTexts, choice.Text)
	}

	c.audit.Record(req.Prompt, strings.Join(auditTexts, "\n----\n"))
	c.logger.Debug("Scored prompt",
		zap.Int("samples", len(generations)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	return generations, nil
}

// sumLogProbs sums logprobs[from:], treating an out-of-range start as 0.
func sumLogProbs(logprobs []float32, from int) float64 {
	if from < 0 {
		from = 0
	}
	var sum float64
	for i := from; i < len(logprobs); i++ {
		sum += float64(logprobs[i])
	}
	return sum
}
