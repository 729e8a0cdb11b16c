// File: internal/session/session.go

// Package session tracks live objective sessions by conversation key, pairing
// each controller with its crawler.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/controller"
)

// CrawlerFactory opens a fresh crawler for one session.
type CrawlerFactory func(ctx context.Context) (schemas.Crawler, error)

// ControllerFactory binds a fresh controller to one objective.
type ControllerFactory func(objective string) *controller.Controller

// Session is one live objective: a controller plus the browser it drives.
type Session struct {
	ID         string
	Key        string
	Controller *controller.Controller
	Crawler    schemas.Crawler
}

// Registry maps conversation keys to sessions. A key has at most one live
// session; opening a second one for the same key closes the first. Safe for
// concurrent use.
type Registry struct {
	newCrawler    CrawlerFactory
	newController ControllerFactory
	logger        *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry builds an empty registry.
func NewRegistry(newCrawler CrawlerFactory, newController ControllerFactory, logger *zap.Logger) *Registry {
	return &Registry{
		newCrawler:    newCrawler,
		newController: newController,
		logger:        logger.Named("session"),
		sessions:      make(map[string]*Session),
	}
}

// Open starts a session for key with the given objective, replacing any
// existing session under that key.
func (r *Registry) Open(ctx context.Context, key, objective string) (*Session, error) {
	r.Close(ctx, key)

	crawler, err := r.newCrawler(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open crawler for session: %w", err)
	}

	s := &Session{
		ID:         uuid.NewString(),
		Key:        key,
		Controller: r.newController(objective),
		Crawler:    crawler,
	}

	r.mu.Lock()
	r.sessions[key] = s
	r.mu.Unlock()

	r.logger.Info("Session opened",
		zap.String("session_id", s.ID), zap.String("key", key), zap.String("objective", objective))
	return s, nil
}

// Get returns the live session for key, if any.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Close tears down the session for key. Closing a key with no session is a
// no-op.
func (r *Registry) Close(ctx context.Context, key string) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := s.Crawler.Shutdown(ctx); err != nil {
		r.logger.Warn("Crawler shutdown failed", zap.String("session_id", s.ID), zap.Error(err))
	}
	r.logger.Info("Session closed", zap.String("session_id", s.ID), zap.String("key", key))
}

// CloseAll tears down every live session.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	for _, k := range keys {
		r.Close(ctx, k)
	}
}
