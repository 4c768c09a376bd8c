package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFile is the cross-process rebuild lock inside the index directory.
const LockFile = "rebuild.lock"

// rebuildLock keeps two processes sharing one index directory from
// building or swapping at the same time.
type rebuildLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

func newRebuildLock(indexDir string) *rebuildLock {
	path := filepath.Join(indexDir, LockFile)
	return &rebuildLock{path: path, flock: flock.New(path)}
}

// TryLock acquires the lock without blocking. It returns false when another
// process holds it.
func (l *rebuildLock) TryLock() (bool, error) {
	if l.locked {
		return true, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = acquired
	return acquired, nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *rebuildLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *rebuildLock) Path() string { return l.path }
