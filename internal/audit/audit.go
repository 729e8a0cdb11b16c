// File: internal/audit/audit.go

// Package audit persists the exact prompt and response of every
// language-model call, one file per call, for offline inspection and for
// replaying scoring decisions.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Log writes one file per recorded call into a directory. File names derive
// from a nanosecond timestamp and are strictly monotonically increasing, so
// lexical order equals call order.
type Log struct {
	dir    string
	logger *zap.Logger

	mu   sync.Mutex
	last int64
}

// New creates the audit directory if needed and returns a Log writing into it.
func New(dir string, logger *zap.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory %s: %w", dir, err)
	}
	return &Log{dir: dir, logger: logger.Named("audit")}, nil
}

// Record writes the prompt/response pair of one call. Failures are logged and
// swallowed: the audit trail must never break a live session.
func (l *Log) Record(prompt, response string) {
	if l == nil {
		return
	}
	key := l.nextKey()
	path := filepath.Join(l.dir, fmt.Sprintf("%020d.log", key))

	content := "PROMPT:\n\n" + prompt + "\n\n==========\n\nRESPONSE:\n\n" + response + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		l.logger.Warn("Failed to write audit record", zap.String("path", path), zap.Error(err))
		return
	}
	l.logger.Debug("Audit record written", zap.String("path", path))
}

// nextKey returns a strictly increasing key even when two calls land in the
// same nanosecond.
func (l *Log) nextKey() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := time.Now().UnixNano()
	if key <= l.last {
		key = l.last + 1
	}
	l.last = key
	return key
}
