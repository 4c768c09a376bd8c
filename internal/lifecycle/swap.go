package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	amanerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/fsutil"
	"github.com/Aman-CERP/amanfind/internal/generation"
	"github.com/Aman-CERP/amanfind/internal/store"
)

// Sibling directories of the active location used during a swap.
const (
	stagingSuffix = ".next"
	retiredSuffix = ".retired"
)

// swap makes gen the active generation. An active location without a
// commit marker is treated as gone.
func (m *Manager) swap(ctx context.Context, gen *generation.Generation) error {
	cur := m.ActiveGeneration()
	if !cur.FirstBuildComplete || m.isLost() || !store.IsCommitted(cur.Location) {
		return m.adopt(ctx, cur, gen)
	}
	return m.replace(ctx, cur, gen)
}

func infoFor(location string, gen *generation.Generation) ActiveInfo {
	return ActiveInfo{
		Location:           location,
		GenerationID:       gen.ID,
		Backend:            gen.Backend,
		BuiltAt:            gen.BuiltAt,
		RecordCount:        gen.RecordCount,
		FirstBuildComplete: true,
	}
}

// adopt takes gen's own directory as the active location. Used for the
// first build and when the previous generation is gone.
func (m *Manager) adopt(ctx context.Context, prev ActiveInfo, gen *generation.Generation) error {
	reader, err := m.openReader(gen.Location, gen.Backend)
	if err != nil {
		m.cleaner.remove(ctx, gen.Location)
		return amanerrors.SwapError("failed to open new generation", err)
	}
	info := infoFor(gen.Location, gen)

	m.swapMu.Lock()
	old := m.reader
	m.reader = reader
	m.active.Store(&info)
	m.swapMu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	m.mu.Lock()
	m.lost = false
	m.mu.Unlock()
	m.persist(info)

	if prev.Location != "" && prev.Location != gen.Location {
		m.cleaner.remove(ctx, prev.Location)
		m.cleaner.remove(ctx, prev.Location+stagingSuffix)
		m.cleaner.remove(ctx, prev.Location+retiredSuffix)
	}
	m.logger.Info("swap_complete",
		slog.String("generation", gen.ID),
		slog.String("location", info.Location),
		slog.Bool("adopted", true))
	return nil
}

// replace copies gen into a staging sibling of the active location,
// verifies it, then promotes it under the write lock.
func (m *Manager) replace(ctx context.Context, cur ActiveInfo, gen *generation.Generation) error {
	active := cur.Location
	staging := active + stagingSuffix
	retired := active + retiredSuffix

	_ = os.RemoveAll(staging)
	if err := fsutil.CopyTree(gen.Location, staging); err != nil {
		m.cleaner.remove(ctx, staging)
		m.cleaner.remove(ctx, gen.Location)
		return amanerrors.SwapError("failed to stage new generation", err)
	}
	marker, err := store.Verify(staging, m.storeOpts)
	if err == nil && marker.GenerationID != gen.ID {
		err = fmt.Errorf("staged generation is %s, expected %s", marker.GenerationID, gen.ID)
	}
	if err != nil {
		m.cleaner.remove(ctx, staging)
		m.cleaner.remove(ctx, gen.Location)
		return amanerrors.SwapError("staged generation failed verification", err)
	}
	_ = os.RemoveAll(retired)

	info := infoFor(active, gen)
	m.swapMu.Lock()
	lost, err := m.promote(cur, info, staging, retired)
	m.swapMu.Unlock()

	if err != nil {
		if lost {
			m.markLost()
			m.logger.Error("swap_failed",
				slog.String("generation", gen.ID),
				slog.Bool("previous_lost", true),
				slog.String("error", err.Error()))
		} else {
			m.logger.Warn("swap_failed",
				slog.String("generation", gen.ID),
				slog.Bool("previous_lost", false),
				slog.String("error", err.Error()))
			m.cleaner.remove(ctx, retired)
		}
		m.cleaner.remove(ctx, staging)
		m.cleaner.remove(ctx, gen.Location)
		return amanerrors.SwapError("failed to swap generations", err).
			WithDetail("active", active)
	}

	m.persist(info)
	m.cleaner.remove(ctx, retired)
	m.cleaner.remove(ctx, gen.Location)
	m.logger.Info("swap_complete",
		slog.String("generation", gen.ID),
		slog.String("location", active),
		slog.Bool("adopted", false))
	return nil
}

// promote closes the reader, moves the active directory aside, moves
// staging into place and reopens. lost reports that no readable generation
// remains at the active location. Caller holds swapMu for writing.
func (m *Manager) promote(cur, next ActiveInfo, staging, retired string) (lost bool, err error) {
	if m.reader != nil {
		_ = m.reader.Close()
		m.reader = nil
	}

	if err := m.rename(cur.Location, retired); err != nil {
		return !m.reopenLocked(cur), fmt.Errorf("failed to retire active generation: %w", err)
	}
	if err := m.rename(staging, cur.Location); err != nil {
		if rbErr := m.rename(retired, cur.Location); rbErr != nil {
			return true, fmt.Errorf("failed to promote staged generation: %w (rollback failed: %v)", err, rbErr)
		}
		return !m.reopenLocked(cur), fmt.Errorf("failed to promote staged generation: %w", err)
	}

	if !m.reopenLocked(next) {
		return true, fmt.Errorf("failed to open promoted generation at %s", next.Location)
	}
	m.active.Store(&next)
	return false, nil
}

// reopenLocked opens info's location as the active reader. Caller holds
// swapMu for writing.
func (m *Manager) reopenLocked(info ActiveInfo) bool {
	reader, err := m.openReader(info.Location, info.Backend)
	if err != nil {
		m.logger.Warn("reader_open_failed",
			slog.String("location", info.Location),
			slog.String("error", err.Error()))
		return false
	}
	m.reader = reader
	return true
}
