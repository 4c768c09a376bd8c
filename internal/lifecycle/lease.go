package lifecycle

import (
	"sync"

	amanerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/store"
)

// Lease pins the active generation for one read. A swap waits for open
// leases, so Release promptly.
type Lease struct {
	m      *Manager
	reader store.Reader
	info   ActiveInfo
	once   sync.Once
}

// Acquire returns a lease on the active generation. It fails with
// ERR_509_STILL_INDEXING before the first build is adopted.
func (m *Manager) Acquire() (*Lease, error) {
	m.swapMu.RLock()
	info := m.active.Load()
	if info == nil || !info.FirstBuildComplete {
		m.swapMu.RUnlock()
		return nil, amanerrors.New(amanerrors.ErrCodeStillIndexing, "index is still being built", nil).
			WithSuggestion("Wait for the first build to finish, or run 'amanfind status' to follow it")
	}
	if m.reader == nil {
		m.swapMu.RUnlock()
		return nil, amanerrors.New(amanerrors.ErrCodeCorruptIndex, "active index is unavailable", nil).
			WithDetail("location", info.Location).
			WithSuggestion("Run 'amanfind index --force' to rebuild")
	}
	return &Lease{m: m, reader: m.reader, info: *info}, nil
}

// Reader returns the pinned generation's reader.
func (l *Lease) Reader() store.Reader { return l.reader }

// Info describes the pinned generation.
func (l *Lease) Info() ActiveInfo { return l.info }

// Release ends the lease. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(l.m.swapMu.RUnlock)
}
