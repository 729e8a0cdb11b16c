// File: internal/provider/tokenizer.go
package provider

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tokenizer counts tokens with the model's tiktoken encoding, falling back to
// the ~4-chars-per-token heuristic if the encoding cannot be initialized
// (tiktoken may need to download BPE data on first use).
type Tokenizer struct {
	model   string
	logger  *zap.Logger
	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTokenizer creates a tokenizer for the given model. Initialization of the
// encoding is lazy.
func NewTokenizer(model string, logger *zap.Logger) *Tokenizer {
	return &Tokenizer{model: model, logger: logger.Named("tokenizer")}
}

func (t *Tokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(t.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err != nil {
			t.initErr = err
			t.logger.Warn("Tokenizer encoding unavailable, falling back to character estimate",
				zap.String("model", t.model), zap.Error(err))
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Count returns the token length of text under the model's encoding.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	if err := t.init(); err != nil {
		return (len(text) + 3) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}
