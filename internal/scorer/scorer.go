// File: internal/scorer/scorer.go

// Package scorer chooses between competing prompt continuations by comparing
// their likelihoods under the language model, and generates short free-text
// payloads for type commands.
package scorer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/provider"
	"github.com/webpilot-ai/webpilot/internal/truncate"
)

// Sampling parameters for free-text generation. Fixed: the command payload
// should be mildly creative but reproducible in spirit.
const (
	generateTemperature float32 = 0.5
	generateTopP        float32 = 0.65
	generateSamples             = 5
)

// Option is one candidate fill-in for a prompt template.
type Option map[string]string

// Scored pairs an option with its likelihood under the shared context.
type Scored struct {
	Score  float64
	Option Option
}

// Scorer fans one scoring task out per option and fans back in, sorted by
// score. Transient provider failures are retried with exponential backoff up
// to a configured elapsed ceiling; permanent failures exclude the affected
// option instead of failing the batch.
type Scorer struct {
	client schemas.Scorer
	tok    schemas.Tokenizer
	cfg    config.ProviderConfig
	logger *zap.Logger

	generateTokens int
}

// New builds a Scorer. generateTokens is the budget for the free-text payload
// of a type command.
func New(client schemas.Scorer, tok schemas.Tokenizer, cfg config.ProviderConfig, generateTokens int, logger *zap.Logger) *Scorer {
	return &Scorer{
		client:         client,
		tok:            tok,
		cfg:            cfg,
		logger:         logger.Named("scorer"),
		generateTokens: generateTokens,
	}
}

// RenderTemplate substitutes {key} placeholders with the option's fields.
func RenderTemplate(template string, option Option) string {
	rendered := template
	for key, value := range option {
		rendered = strings.ReplaceAll(rendered, "{"+key+"}", value)
	}
	return rendered
}

// Choose scores every option's rendered prompt concurrently and returns the
// top-K (score, option) pairs in descending score order. Equal scores keep
// submission order. Zero options yield an empty result.
func (s *Scorer) Choose(ctx context.Context, template string, options []Option, mode schemas.LikelihoodMode, topK int) ([]Scored, error) {
	if len(options) == 0 {
		return []Scored{}, nil
	}

	results := make([]*Scored, len(options))
	g, gctx := errgroup.WithContext(ctx)
	for i, option := range options {
		g.Go(func() error {
			prompt := RenderTemplate(template, option)
			score, err := s.scorePrompt(gctx, prompt, mode)
			if err != nil {
				// One bad option must not sink the batch; drop it and let the
				// survivors compete.
				s.logger.Error("Excluding option from batch after scoring failure",
					zap.Int("option_index", i), zap.Error(err))
				return nil
			}
			results[i] = &Scored{Score: score, Option: option}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scored := make([]Scored, 0, len(results))
	for _, r := range results {
		if r != nil {
			scored = append(scored, *r)
		}
	}
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].Score > scored[b].Score })

	if topK > len(scored) {
		topK = len(scored)
	}
	if topK < 0 {
		topK = 0
	}
	return scored[:topK], nil
}

// scorePrompt computes the likelihood of one rendered prompt, truncating and
// retrying per policy.
func (s *Scorer) scorePrompt(ctx context.Context, prompt string, mode schemas.LikelihoodMode) (float64, error) {
	prompt = s.fit(prompt, 0)

	var likelihood float64
	operation := func() error {
		generations, err := s.client.Score(ctx, schemas.ScoreRequest{
			Prompt:     prompt,
			MaxTokens:  0,
			Likelihood: mode,
		})
		if err != nil {
			return s.classifyForRetry(err)
		}
		if len(generations) == 0 {
			return backoff.Permanent(fmt.Errorf("scoring returned no generations"))
		}
		likelihood = generations[0].Likelihood
		return nil
	}

	if err := s.retry(ctx, operation); err != nil {
		return 0, err
	}
	return likelihood, nil
}

// GenerateText samples short continuations of prompt and returns the most
// likely one, cut at the first newline. Used for the payload of a type
// command.
func (s *Scorer) GenerateText(ctx context.Context, prompt string) (string, error) {
	prompt = s.fit(prompt, s.generateTokens)

	var best schemas.Generation
	operation := func() error {
		generations, err := s.client.Score(ctx, schemas.ScoreRequest{
			Prompt:        prompt,
			MaxTokens:     s.generateTokens,
			NumSamples:    generateSamples,
			StopSequences: []string{"\n"},
			Temperature:   generateTemperature,
			TopP:          generateTopP,
			Likelihood:    schemas.LikelihoodGeneration,
		})
		if err != nil {
			return s.classifyForRetry(err)
		}
		if len(generations) == 0 {
			return backoff.Permanent(fmt.Errorf("generation returned no samples"))
		}
		best = generations[0]
		for _, g := range generations[1:] {
			if g.Likelihood > best.Likelihood {
				best = g
			}
		}
		return nil
	}

	if err := s.retry(ctx, operation); err != nil {
		return "", fmt.Errorf("failed to generate text payload: %w", err)
	}

	text := best.Text
	if idx := strings.Index(text, "\n"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text), nil
}

// fit left-truncates prompt so that it plus the reserved generation budget
// stays inside the model's context limit, preserving the most recent context.
func (s *Scorer) fit(prompt string, reserve int) string {
	limit := s.cfg.ContextLimit - reserve
	original := s.tok.Count(prompt)
	fitted, truncated := truncate.Left(s.tok, prompt, limit)
	if truncated {
		s.logger.Warn("Truncating over-budget prompt from the left",
			zap.Int("original_tokens", original),
			zap.Int("truncated_tokens", s.tok.Count(fitted)),
			zap.Int("limit", limit))
	}
	return fitted
}

// classifyForRetry converts a provider error into backoff's retry/stop
// signal: transient errors retry, everything else stops immediately.
func (s *Scorer) classifyForRetry(err error) error {
	if provider.IsTransient(err) {
		s.logger.Warn("Transient provider error, retrying", zap.Error(err))
		return err
	}
	return backoff.Permanent(err)
}

func (s *Scorer) retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.cfg.MaxRetryElapsed
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}
