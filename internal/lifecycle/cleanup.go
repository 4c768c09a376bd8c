package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	amanerrors "github.com/Aman-CERP/amanfind/internal/errors"
)

// cleaner deletes generation directories. A directory that still cannot be
// removed after one delayed retry is kept on a pending list and tried again
// when the manager closes; startup sweeps catch anything left after that.
type cleaner struct {
	delay     time.Duration
	logger    *slog.Logger
	removeAll func(string) error

	mu      sync.Mutex
	pending []string
}

func newCleaner(delay time.Duration, logger *slog.Logger) *cleaner {
	return &cleaner{delay: delay, logger: logger, removeAll: os.RemoveAll}
}

// remove deletes path, retrying once. It reports whether path is gone.
func (c *cleaner) remove(ctx context.Context, path string) bool {
	if path == "" {
		return true
	}
	ctx = context.WithoutCancel(ctx)
	err := amanerrors.Retry(ctx, amanerrors.RetryOnce(c.delay), func() error {
		return c.removeAll(path)
	})
	if err == nil {
		return true
	}
	c.logger.Warn("cleanup_deferred",
		slog.String("path", path),
		slog.String("error", err.Error()))
	c.mu.Lock()
	c.pending = append(c.pending, path)
	c.mu.Unlock()
	return false
}

// Pending returns paths awaiting deletion.
func (c *cleaner) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.pending...)
}

// flush makes a last attempt at every pending path.
func (c *cleaner) flush() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, path := range pending {
		if err := c.removeAll(path); err != nil {
			c.logger.Warn("cleanup_abandoned",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
}
