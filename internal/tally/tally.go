// File: internal/tally/tally.go

// Package tally counts user-feedback categories per session and appends them
// as summary rows to a durable CSV table.
package tally

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// Tally accumulates counts for the closed key set y/n/s/command/success/
// cancel. Any other non-empty key folds into command, matching the
// convention that an unrecognized reply is a direct command override.
type Tally struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	counts map[string]int
}

// New creates an empty tally that flushes to the CSV table at path.
func New(path string, logger *zap.Logger) *Tally {
	return &Tally{
		path:   path,
		logger: logger.Named("tally"),
		counts: make(map[string]int),
	}
}

// Record increments the counter for key. Empty keys are ignored.
func (t *Tally) Record(key string) {
	if key == "" {
		return
	}
	recognized := false
	for _, k := range schemas.TallyKeys {
		if key == k {
			recognized = true
			break
		}
	}
	if !recognized {
		key = "command"
	}

	t.mu.Lock()
	t.counts[key]++
	t.mu.Unlock()
}

// Count returns the current count for key.
func (t *Tally) Count(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[key]
}

// Flush appends one row of the six counters to the table, writing the header
// row first if the table does not exist yet, then resets the counters.
func (t *Tally) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, statErr := os.Stat(t.path)
	needHeader := os.IsNotExist(statErr)

	fd, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open tally table %s: %w", t.path, err)
	}
	defer fd.Close()

	w := csv.NewWriter(fd)
	if needHeader {
		if err := w.Write(schemas.TallyKeys); err != nil {
			return fmt.Errorf("failed to write tally header: %w", err)
		}
	}

	row := make([]string, len(schemas.TallyKeys))
	for i, k := range schemas.TallyKeys {
		row[i] = strconv.Itoa(t.counts[k])
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("failed to write tally row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush tally table: %w", err)
	}

	t.logger.Info("Response tally flushed", zap.String("path", t.path), zap.Any("counts", t.counts))
	t.counts = make(map[string]int)
	return nil
}
