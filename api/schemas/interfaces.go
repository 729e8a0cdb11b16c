// File: api/schemas/interfaces.go
package schemas

import "context"

// LikelihoodMode selects which token span the scoring capability computes the
// likelihood over.
type LikelihoodMode string

const (
	// LikelihoodAll scores the full rendered prompt. Used when comparing
	// competing continuations that are already baked into the prompt.
	LikelihoodAll LikelihoodMode = "ALL"
	// LikelihoodGeneration scores only the generated continuation. Used when
	// sampling free text and keeping the most probable sample.
	LikelihoodGeneration LikelihoodMode = "GENERATION"
)

// ScoreRequest describes one call to the scoring/generation capability.
type ScoreRequest struct {
	Prompt        string
	MaxTokens     int
	NumSamples    int
	StopSequences []string
	Temperature   float32
	TopP          float32
	Likelihood    LikelihoodMode
}

// Generation is one sampled (or echoed) continuation with its likelihood
// under the prompt. Higher is more probable.
type Generation struct {
	Text       string
	Likelihood float64
}

// Embedder is the embedding capability: one vector per input text, in input
// order. Calls block on network I/O and must honor ctx.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Scorer is the scoring/generation capability backed by a hosted language
// model. With MaxTokens 0 it returns a single Generation carrying the
// likelihood of the prompt itself; with MaxTokens > 0 it returns NumSamples
// sampled continuations.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) ([]Generation, error)
}

// Tokenizer counts tokens the way the provider's model does. Used to enforce
// input budgets before a request is sent.
type Tokenizer interface {
	Count(text string) int
}

// Crawler is the browser collaborator. Crawl returns the current URL and the
// interactable/informational elements of the page; RunCommand executes a
// click or type command against the live page.
type Crawler interface {
	Crawl(ctx context.Context) (url string, elements []PageElement, err error)
	RunCommand(ctx context.Context, cmd Command) error
	GoTo(ctx context.Context, url string) error
	Shutdown(ctx context.Context) error
}
