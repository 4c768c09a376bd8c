package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Aman-CERP/amanfind/internal/generation"
	"github.com/Aman-CERP/amanfind/internal/store"
)

// recover loads persisted state, repairs what an interrupted swap left
// behind, sweeps orphaned generations and opens the active reader. Repair
// and sweep run only when no other process holds the rebuild lock.
func (m *Manager) recover(ctx context.Context) {
	st, err := loadState(m.statePath)
	if err != nil {
		m.logger.Warn("state_unreadable",
			slog.String("path", m.statePath),
			slog.String("error", err.Error()))
		st = persistedState{}
	}

	locked, err := m.lock.TryLock()
	if err != nil {
		m.logger.Warn("rebuild_lock_failed", slog.String("error", err.Error()))
	}
	if locked {
		repaired := m.repair(st)
		if repaired.ActiveLocation != st.ActiveLocation ||
			repaired.GenerationID != st.GenerationID ||
			repaired.FirstBuildComplete != st.FirstBuildComplete {
			m.persist(activeFromState(repaired))
		}
		st = repaired
		m.sweep(ctx, st.ActiveLocation)
		if err := m.lock.Unlock(); err != nil {
			m.logger.Warn("rebuild_unlock_failed", slog.String("error", err.Error()))
		}
	} else {
		m.logger.Info("recovery_skipped", slog.String("reason", "another process is rebuilding"))
	}

	info := activeFromState(st)
	if info.FirstBuildComplete {
		reader, err := m.openReader(info.Location, info.Backend)
		if err != nil {
			m.logger.Warn("reader_open_failed",
				slog.String("location", info.Location),
				slog.String("error", err.Error()))
			m.lost = true
		} else {
			m.reader = reader
		}
	}
	m.active.Store(&info)
	m.logger.Info("lifecycle_opened",
		slog.Bool("first_build_complete", info.FirstBuildComplete),
		slog.String("active", info.Location),
		slog.String("generation", info.GenerationID))
}

// repair returns the state that matches what is on disk. Without a
// persisted first build nothing is adopted: the first build runs again.
func (m *Manager) repair(st persistedState) persistedState {
	if st.FirstBuildComplete {
		active := st.ActiveLocation
		marker, err := store.Verify(active, m.storeOpts)
		if err == nil {
			return stateFromMarker(active, marker)
		}
		m.logger.Warn("active_generation_invalid",
			slog.String("location", active),
			slog.String("error", err.Error()))

		// A swap was interrupted: staging holds the newer build, retired
		// the older one.
		for _, candidate := range []string{active + stagingSuffix, active + retiredSuffix} {
			marker, err := store.Verify(candidate, m.storeOpts)
			if err != nil {
				continue
			}
			if err := os.RemoveAll(active); err != nil {
				continue
			}
			if err := m.rename(candidate, active); err != nil {
				m.logger.Warn("recovery_rename_failed",
					slog.String("from", candidate),
					slog.String("error", err.Error()))
				continue
			}
			m.logger.Info("generation_recovered",
				slog.String("from", candidate),
				slog.String("generation", marker.GenerationID))
			return stateFromMarker(active, marker)
		}

		if location, marker, ok := m.newestCommitted(); ok {
			m.logger.Info("generation_adopted_on_startup",
				slog.String("location", location),
				slog.String("generation", marker.GenerationID))
			return stateFromMarker(location, marker)
		}
		m.logger.Warn("no_usable_generation", slog.String("result", "first build required"))
	}
	return persistedState{}
}

// newestCommitted finds the most recently built generation that verifies.
func (m *Manager) newestCommitted() (string, store.Marker, bool) {
	entries, err := os.ReadDir(m.builder.Dir())
	if err != nil {
		return "", store.Marker{}, false
	}
	type candidate struct {
		location string
		marker   store.Marker
	}
	var candidates []candidate
	for _, e := range entries {
		if !e.IsDir() || !isGenerationName(e.Name()) {
			continue
		}
		location := filepath.Join(m.builder.Dir(), e.Name())
		marker, err := store.ReadMarker(location)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{location: location, marker: marker})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].marker.BuiltAt.After(candidates[j].marker.BuiltAt)
	})

	for _, c := range candidates {
		if _, err := store.Verify(c.location, m.storeOpts); err != nil {
			m.logger.Warn("generation_unverifiable",
				slog.String("location", c.location),
				slog.String("error", err.Error()))
			continue
		}
		return c.location, c.marker, true
	}
	return "", store.Marker{}, false
}

// sweep removes everything under the generations directory except active.
func (m *Manager) sweep(ctx context.Context, active string) {
	entries, err := os.ReadDir(m.builder.Dir())
	if err != nil {
		return
	}
	for _, e := range entries {
		path := filepath.Join(m.builder.Dir(), e.Name())
		if path == active {
			continue
		}
		if m.cleaner.remove(ctx, path) {
			m.logger.Info("orphan_removed", slog.String("path", path))
		}
	}
}

// isGenerationName matches gen-<id> without a staging or retired suffix.
func isGenerationName(name string) bool {
	return strings.HasPrefix(name, generation.DirPrefix) &&
		!strings.HasSuffix(name, stagingSuffix) &&
		!strings.HasSuffix(name, retiredSuffix)
}

func stateFromMarker(location string, marker store.Marker) persistedState {
	return persistedState{
		FirstBuildComplete: true,
		ActiveLocation:     location,
		GenerationID:       marker.GenerationID,
		Backend:            marker.Backend,
		BuiltAt:            marker.BuiltAt,
		RecordCount:        marker.RecordCount,
	}
}
