package memory_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/memory"
)

// keywordEmbedder maps texts onto axis vectors by keyword so similarity is
// predictable.
type keywordEmbedder struct {
	calls int
}

func (k *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	k.calls++
	out := make([][]float64, len(texts))
	for i, t := range texts {
		switch {
		case strings.Contains(t, "paris"):
			out[i] = []float64{1, 0, 0}
		case strings.Contains(t, "tokyo"):
			out[i] = []float64{0, 1, 0}
		default:
			out[i] = []float64{0, 0, 1}
		}
	}
	return out, nil
}

func openStore(t *testing.T, path string) *memory.Store {
	s, err := memory.Open(path, &keywordEmbedder{}, 50, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestSaveIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.json")
	s := openStore(t, path)
	ctx := context.Background()

	elements := []schemas.PageElement{"link [0] Book now"}
	require.NoError(t, s.Save(ctx, "book a table", "https://example.com", elements, "click link [0]", nil))
	require.NoError(t, s.Save(ctx, "book a table", "https://example.com", elements, "click link [0]", nil))

	assert.Equal(t, 1, s.Len())
}

func TestSaveDistinctMomentsAppendInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.json")
	s := openStore(t, path)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "obj", "https://a.com", nil, "click link [0]", nil))
	require.NoError(t, s.Save(ctx, "obj", "https://b.com", nil, "click link [1]", []string{"click link [0]"}))
	assert.Equal(t, 2, s.Len())

	// The file is the source of truth; reload and confirm order survived.
	reloaded := openStore(t, path)
	require.Equal(t, 2, reloaded.Len())

	results, err := reloaded.Search(ctx, "anything", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	urls := []string{results[0].URL, results[1].URL}
	assert.ElementsMatch(t, []string{"https://a.com", "https://b.com"}, urls)
}

func TestDedupSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.json")
	ctx := context.Background()

	s := openStore(t, path)
	require.NoError(t, s.Save(ctx, "obj", "https://a.com", nil, "click link [0]", nil))

	reloaded := openStore(t, path)
	require.NoError(t, reloaded.Save(ctx, "obj", "https://a.com", nil, "click link [0]", nil))
	assert.Equal(t, 1, reloaded.Len())
}

func TestSearchRanksBySimilarity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.json")
	s := openStore(t, path)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "visit paris", "https://paris.example.com", nil, "click link [0]", nil))
	require.NoError(t, s.Save(ctx, "visit tokyo", "https://tokyo.example.com", nil, "click link [1]", nil))

	results, err := s.Search(ctx, "planning a paris trip", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://paris.example.com", results[0].URL)
}

func TestSearchEmptyStore(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "examples.json"))

	results, err := s.Search(context.Background(), "query", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAtomicWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "examples.json")
	s := openStore(t, path)

	require.NoError(t, s.Save(context.Background(), "obj", "https://a.com", nil, "click link [0]", nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "examples.json", entries[0].Name())
}
