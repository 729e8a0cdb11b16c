// File: internal/memory/memory.go

// Package memory is the append-only store of past successful episodes. Each
// record is embedded at save time so retrieval only embeds the query.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/ranker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store persists examples as one JSON array, rewritten whole on every save
// with an atomic replace. The write path is crash-safe but assumes a single
// writer; concurrent processes must serialize externally. Within one process
// the store is safe for concurrent use.
type Store struct {
	path        string
	embedder    schemas.Embedder
	maxElements int
	logger      *zap.Logger

	mu       sync.Mutex
	examples []schemas.Example
	seen     map[string]struct{}
}

// Open loads the store at path, creating an empty one when the file does not
// exist. maxElements caps how many page elements enter the canonical state
// text.
func Open(path string, embedder schemas.Embedder, maxElements int, logger *zap.Logger) (*Store, error) {
	s := &Store{
		path:        path,
		embedder:    embedder,
		maxElements: maxElements,
		logger:      logger.Named("memory"),
		seen:        make(map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read example store %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.examples); err != nil {
		return nil, fmt.Errorf("failed to decode example store %s: %w", path, err)
	}
	for _, ex := range s.examples {
		s.seen[ex.Text] = struct{}{}
	}

	s.logger.Info("Example store loaded", zap.String("path", path), zap.Int("examples", len(s.examples)))
	return s, nil
}

// Len returns the number of stored examples.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.examples)
}

// Save appends one episode moment unless an identical state text is already
// stored. Saving the same moment twice is a no-op; distinct moments append in
// call order.
func (s *Store) Save(ctx context.Context, objective, url string, elements []schemas.PageElement, command schemas.Command, previousCommands []string) error {
	capped := elements
	if s.maxElements > 0 && len(capped) > s.maxElements {
		capped = capped[:s.maxElements]
	}
	state := schemas.ConstructState(objective, url, capped, previousCommands)
	text := "Example:\n" + state + "\nNext command: " + string(command) + "\n----"

	s.mu.Lock()
	if _, dup := s.seen[text]; dup {
		s.mu.Unlock()
		s.logger.Debug("Example already stored, skipping", zap.String("url", url))
		return nil
	}
	s.mu.Unlock()

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("failed to embed example: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("expected 1 embedding for example, got %d", len(vectors))
	}

	elementTexts := make([]string, len(elements))
	for i, e := range elements {
		elementTexts[i] = string(e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check under the lock; another goroutine may have raced the embed.
	if _, dup := s.seen[text]; dup {
		return nil
	}
	s.examples = append(s.examples, schemas.Example{
		Text:             text,
		Embedding:        vectors[0],
		URL:              url,
		Elements:         elementTexts,
		Command:          string(command),
		PreviousCommands: previousCommands,
		Objective:        objective,
	})
	s.seen[text] = struct{}{}

	if err := s.persistLocked(); err != nil {
		return err
	}
	s.logger.Info("Example saved", zap.String("url", url), zap.Int("total", len(s.examples)))
	return nil
}

// Search embeds the query and returns the top-K stored examples by cosine
// similarity against their stored embeddings. Equal scores keep store order.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]schemas.Example, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	snapshot := make([]schemas.Example, len(s.examples))
	copy(snapshot, s.examples)
	s.mu.Unlock()

	if len(snapshot) == 0 {
		return nil, nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed search query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 embedding for query, got %d", len(vectors))
	}
	queryVec := vectors[0]

	order := make([]int, len(snapshot))
	for i := range order {
		order[i] = i
	}
	scores := make([]float64, len(snapshot))
	for i, ex := range snapshot {
		scores[i] = ranker.CosineSimilarity(queryVec, ex.Embedding)
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	if topK > len(snapshot) {
		topK = len(snapshot)
	}
	results := make([]schemas.Example, topK)
	for i := 0; i < topK; i++ {
		results[i] = snapshot[order[i]]
	}
	return results, nil
}

// persistLocked rewrites the whole store: marshal, write a temp file, rename
// over the original. A failed rename retries the full read-modify-write once
// before giving up.
func (s *Store) persistLocked() error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if lastErr != nil {
			s.logger.Warn("Retrying example store write", zap.Error(lastErr))
		}
		lastErr = s.writeLocked()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to persist example store: %w", lastErr)
}

func (s *Store) writeLocked() error {
	data, err := json.Marshal(s.examples)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("atomic replace: %w", err)
	}
	return nil
}
