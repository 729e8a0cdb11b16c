package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/controller"
	"github.com/webpilot-ai/webpilot/internal/session"
)

type fakeCrawler struct {
	shutdowns int
}

func (f *fakeCrawler) Crawl(context.Context) (string, []schemas.PageElement, error) {
	return "https://example.com", nil, nil
}
func (f *fakeCrawler) RunCommand(context.Context, schemas.Command) error { return nil }
func (f *fakeCrawler) GoTo(context.Context, string) error                { return nil }
func (f *fakeCrawler) Shutdown(context.Context) error {
	f.shutdowns++
	return nil
}

func newRegistry(t *testing.T) (*session.Registry, *[]*fakeCrawler) {
	crawlers := &[]*fakeCrawler{}
	newCrawler := func(context.Context) (schemas.Crawler, error) {
		c := &fakeCrawler{}
		*crawlers = append(*crawlers, c)
		return c, nil
	}
	newController := func(objective string) *controller.Controller {
		return controller.New(objective, config.ControllerConfig{MaxElements: 50},
			nil, nil, nil, nil, zaptest.NewLogger(t))
	}
	return session.NewRegistry(newCrawler, newController, zaptest.NewLogger(t)), crawlers
}

func TestOpenAndGet(t *testing.T) {
	registry, _ := newRegistry(t)
	ctx := context.Background()

	sess, err := registry.Open(ctx, "user-1", "book a table")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "book a table", sess.Controller.Objective())

	got, ok := registry.Get("user-1")
	require.True(t, ok)
	assert.Same(t, sess, got)

	_, ok = registry.Get("user-2")
	assert.False(t, ok)
}

func TestReopenReplacesExistingSession(t *testing.T) {
	registry, crawlers := newRegistry(t)
	ctx := context.Background()

	first, err := registry.Open(ctx, "user-1", "objective one")
	require.NoError(t, err)
	second, err := registry.Open(ctx, "user-1", "objective two")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	require.Len(t, *crawlers, 2)
	assert.Equal(t, 1, (*crawlers)[0].shutdowns, "first crawler should be shut down")
	assert.Zero(t, (*crawlers)[1].shutdowns)

	got, ok := registry.Get("user-1")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestCloseIsIdempotent(t *testing.T) {
	registry, crawlers := newRegistry(t)
	ctx := context.Background()

	_, err := registry.Open(ctx, "user-1", "objective")
	require.NoError(t, err)

	registry.Close(ctx, "user-1")
	registry.Close(ctx, "user-1")

	require.Len(t, *crawlers, 1)
	assert.Equal(t, 1, (*crawlers)[0].shutdowns)
	_, ok := registry.Get("user-1")
	assert.False(t, ok)
}

func TestCloseAll(t *testing.T) {
	registry, crawlers := newRegistry(t)
	ctx := context.Background()

	_, err := registry.Open(ctx, "user-1", "one")
	require.NoError(t, err)
	_, err = registry.Open(ctx, "user-2", "two")
	require.NoError(t, err)

	registry.CloseAll(ctx)

	for _, c := range *crawlers {
		assert.Equal(t, 1, c.shutdowns)
	}
	_, ok := registry.Get("user-1")
	assert.False(t, ok)
}
