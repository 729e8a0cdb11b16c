// File: internal/ranker/ranker.go

// Package ranker orders candidate texts by embedding similarity to a query.
package ranker

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/truncate"
)

// Ranker embeds a query and its candidates and returns the candidates in
// descending cosine-similarity order. Output is always a subset/reordering of
// the input; equal similarities keep their input order.
type Ranker struct {
	embedder schemas.Embedder
	tok      schemas.Tokenizer
	budget   int
	logger   *zap.Logger
}

// New builds a Ranker. budget is the embedding capability's per-text input
// budget in tokens.
func New(embedder schemas.Embedder, tok schemas.Tokenizer, budget int, logger *zap.Logger) *Ranker {
	return &Ranker{
		embedder: embedder,
		tok:      tok,
		budget:   budget,
		logger:   logger.Named("ranker"),
	}
}

// Rank returns the top-K candidates most similar to query. Over-budget texts
// are truncated from the right before embedding; that is a warning, not an
// error. Embedding failures propagate with the provider's classification.
func (r *Ranker) Rank(ctx context.Context, query string, candidates []string, topK int) ([]string, error) {
	if len(candidates) == 0 || topK <= 0 {
		return nil, nil
	}

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, r.fit(query, "query"))
	for _, c := range candidates {
		texts = append(texts, r.fit(c, "candidate"))
	}

	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed ranking inputs: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	queryVec := vectors[0]
	scores := make([]float64, len(candidates))
	for i := range candidates {
		scores[i] = CosineSimilarity(queryVec, vectors[i+1])
	}

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if topK > len(candidates) {
		topK = len(candidates)
	}
	ranked := make([]string, topK)
	for i := 0; i < topK; i++ {
		ranked[i] = candidates[order[i]]
	}
	return ranked, nil
}

// fit right-truncates text to the embedding budget, warning when it does.
func (r *Ranker) fit(text, kind string) string {
	if r.budget <= 0 {
		return text
	}
	fitted, truncated := truncate.Right(r.tok, text, r.budget)
	if truncated {
		r.logger.Warn("Truncating over-budget embedding input from the right",
			zap.String("kind", kind),
			zap.Int("budget", r.budget),
			zap.Int("original_tokens", r.tok.Count(text)))
	}
	return fitted
}
