// Package lifecycle owns the active index generation. It decides when to
// rebuild, runs at most one build at a time on a background task, swaps
// committed generations in without exposing readers to partial state, and
// persists enough state to resume after a restart.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/amanfind/internal/async"
	"github.com/Aman-CERP/amanfind/internal/crawler"
	amanerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/generation"
	"github.com/Aman-CERP/amanfind/internal/history"
	"github.com/Aman-CERP/amanfind/internal/store"
)

// GenerationsDir holds every generation directory under the index directory.
const GenerationsDir = "generations"

// DefaultCleanupRetryDelay is the pause before retrying a failed delete.
const DefaultCleanupRetryDelay = 2 * time.Second

// HistoryRecorder receives one entry per finished build.
type HistoryRecorder interface {
	Record(ctx context.Context, e history.Entry) (int64, error)
}

// Config configures a Manager.
type Config struct {
	// IndexDir holds state.json, rebuild.lock and the generations directory.
	IndexDir string
	Engine   store.Engine
	Crawler  *crawler.Crawler
	// Roots are crawled by requests that do not name their own.
	Roots        crawler.Roots
	StoreOptions store.Options
	// MaxAge is the freshness window for non-forced requests. Zero means
	// every request rebuilds.
	MaxAge            time.Duration
	CleanupRetryDelay time.Duration
	History           HistoryRecorder
	Logger            *slog.Logger
}

// Request asks for a rebuild.
type Request struct {
	// Force skips the freshness check.
	Force bool
	// Roots overrides the configured roots for this build only.
	Roots *crawler.Roots
}

// Manager is the index lifecycle manager.
type Manager struct {
	indexDir  string
	statePath string
	builder   *generation.Builder
	backend   string
	roots     crawler.Roots
	storeOpts store.Options
	maxAge    time.Duration
	history   HistoryRecorder
	logger    *slog.Logger
	lock      *rebuildLock
	cleaner   *cleaner
	now       func() time.Time
	rename    func(oldpath, newpath string) error

	baseCtx    context.Context
	baseCancel context.CancelFunc

	// mu guards the rebuild state machine.
	mu     sync.Mutex
	state  State
	task   *async.Task
	lost   bool
	closed bool

	// swapMu is held for reading by search leases and for writing only
	// while a swap closes, renames and reopens the active generation.
	swapMu sync.RWMutex
	reader store.Reader
	active atomic.Pointer[ActiveInfo]
}

// Open validates cfg, recovers on-disk state left by earlier runs and
// opens the active generation for reading when one exists.
func Open(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.IndexDir == "" {
		return nil, fmt.Errorf("index directory is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Crawler == nil {
		return nil, fmt.Errorf("crawler is required")
	}
	indexDir, err := filepath.Abs(cfg.IndexDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve index directory: %w", err)
	}
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.CleanupRetryDelay
	if delay <= 0 {
		delay = DefaultCleanupRetryDelay
	}
	storeOpts := cfg.StoreOptions
	if storeOpts.Logger == nil {
		storeOpts.Logger = logger
	}

	builder, err := generation.NewBuilder(generation.Config{
		Dir:     filepath.Join(indexDir, GenerationsDir),
		Engine:  cfg.Engine,
		Crawler: cfg.Crawler,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &Manager{
		indexDir:   indexDir,
		statePath:  filepath.Join(indexDir, StateFile),
		builder:    builder,
		backend:    cfg.Engine.Name(),
		roots:      cfg.Roots,
		storeOpts:  storeOpts,
		maxAge:     cfg.MaxAge,
		history:    cfg.History,
		logger:     logger,
		lock:       newRebuildLock(indexDir),
		cleaner:    newCleaner(delay, logger),
		now:        time.Now,
		rename:     os.Rename,
		baseCtx:    baseCtx,
		baseCancel: cancel,
	}
	m.recover(ctx)
	return m, nil
}

// IndexDir returns the absolute index directory.
func (m *Manager) IndexDir() string { return m.indexDir }

// RequestRebuild starts a background rebuild of the configured roots and
// returns immediately. It reports whether a build was started; a request
// while one is in flight is ignored.
func (m *Manager) RequestRebuild(force bool) bool {
	return m.Rebuild(Request{Force: force})
}

// Rebuild is RequestRebuild with per-request options.
func (m *Manager) Rebuild(req Request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if m.state != StateIdle {
		m.logger.Info("rebuild_request_ignored",
			slog.String("reason", "rebuild in progress"),
			slog.String("state", m.state.String()))
		return false
	}
	if !req.Force {
		if fresh, age := m.freshLocked(); fresh {
			m.logger.Info("rebuild_skipped_fresh",
				slog.Duration("age", age),
				slog.Duration("max_age", m.maxAge))
			return false
		}
	}

	locked, err := m.lock.TryLock()
	if err != nil {
		m.logger.Warn("rebuild_lock_failed", slog.String("error", err.Error()))
		return false
	}
	if !locked {
		m.logger.Info("rebuild_request_ignored",
			slog.String("reason", "another process is rebuilding"),
			slog.String("lock", m.lock.Path()))
		return false
	}

	roots := m.roots
	if req.Roots != nil {
		roots = *req.Roots
	}
	m.state = StateBuilding
	m.task = async.Start(m.baseCtx, func(ctx context.Context, progress *async.Progress) error {
		return m.run(ctx, progress, roots)
	})
	m.logger.Info("rebuild_started",
		slog.Bool("force", req.Force),
		slog.String("roots", roots.String()))
	return true
}

// freshLocked reports whether the active generation is young enough to
// skip a non-forced rebuild. Caller holds mu.
func (m *Manager) freshLocked() (bool, time.Duration) {
	info := m.active.Load()
	if m.lost || m.maxAge <= 0 || info == nil || !info.FirstBuildComplete {
		return false, 0
	}
	age := m.now().Sub(info.BuiltAt)
	return age < m.maxAge, age
}

// run is the background build: crawl and commit, verify, swap.
func (m *Manager) run(ctx context.Context, progress *async.Progress, roots crawler.Roots) error {
	started := m.now()
	defer func() {
		m.mu.Lock()
		if err := m.lock.Unlock(); err != nil {
			m.logger.Warn("rebuild_unlock_failed", slog.String("error", err.Error()))
		}
		m.state = StateIdle
		m.mu.Unlock()
	}()

	entry := history.Entry{Backend: m.backend, StartedAt: started}
	fail := func(err error) error {
		entry.Outcome = history.OutcomeFailed
		if amanerrors.HasCode(err, amanerrors.ErrCodeSwapFailed) {
			entry.Outcome = history.OutcomeSwapFailed
		}
		entry.Error = err.Error()
		entry.FinishedAt = m.now()
		m.record(ctx, entry)
		m.logger.Warn("rebuild_failed",
			slog.String("generation", entry.GenerationID),
			slog.String("error", err.Error()))
		return err
	}

	paths, err := roots.Resolve()
	if err != nil {
		return fail(amanerrors.New(amanerrors.ErrCodeNoRoots, "failed to resolve crawl roots", err))
	}
	entry.Roots = paths

	gen, err := m.builder.Build(ctx, paths, progress)
	if err != nil {
		if f, ok := generation.AsFailure(err); ok {
			entry.GenerationID = f.ID
			entry.FailedRoots = f.Report.FailedRoots
			entry.Skipped = f.Report.Skipped
			entry.SkippedCount = len(f.Report.Skipped)
			m.cleaner.remove(ctx, f.Location)
		}
		return fail(err)
	}
	entry.GenerationID = gen.ID
	entry.Backend = gen.Backend
	entry.RecordCount = gen.RecordCount
	entry.FailedRoots = gen.FailedRoots
	entry.Skipped = gen.SkippedPaths
	entry.SkippedCount = len(gen.SkippedPaths)

	progress.SetStage(async.StageVerifying)
	if _, err := store.Verify(gen.Location, m.storeOpts); err != nil {
		m.cleaner.remove(ctx, gen.Location)
		return fail(amanerrors.BuildError("committed generation failed verification", err))
	}

	m.mu.Lock()
	m.state = StateSwapping
	m.mu.Unlock()
	progress.SetStage(async.StageSwapping)

	if err := m.swap(ctx, gen); err != nil {
		return fail(err)
	}

	entry.Outcome = history.OutcomeCommitted
	entry.FinishedAt = m.now()
	m.record(ctx, entry)
	m.logger.Info("rebuild_complete",
		slog.String("generation", gen.ID),
		slog.Uint64("records", gen.RecordCount),
		slog.Int("skipped", len(gen.SkippedPaths)),
		slog.Duration("duration", entry.Duration()))
	return nil
}

func (m *Manager) record(ctx context.Context, e history.Entry) {
	if m.history == nil {
		return
	}
	if _, err := m.history.Record(context.WithoutCancel(ctx), e); err != nil {
		m.logger.Warn("history_write_failed", slog.String("error", err.Error()))
	}
}

// State returns the rebuild state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsRebuildInProgress reports whether a build or swap is running.
func (m *Manager) IsRebuildInProgress() bool {
	return m.State() != StateIdle
}

// BuildingElsewhere reports whether another process holds the rebuild
// lock for this index directory.
func (m *Manager) BuildingElsewhere() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != StateIdle {
		return false
	}
	peek := newRebuildLock(m.indexDir)
	locked, err := peek.TryLock()
	if err != nil {
		return false
	}
	if locked {
		_ = peek.Unlock()
	}
	return !locked
}

// ActiveGeneration returns the generation queries are served from.
func (m *Manager) ActiveGeneration() ActiveInfo {
	if info := m.active.Load(); info != nil {
		return *info
	}
	return ActiveInfo{}
}

// ActiveLocation returns the active generation directory, or "" before the
// first build.
func (m *Manager) ActiveLocation() string {
	return m.ActiveGeneration().Location
}

// IsFirstBuildInProgress reports whether no build has ever been adopted.
// Searches are refused until one has.
func (m *Manager) IsFirstBuildInProgress() bool {
	return !m.ActiveGeneration().FirstBuildComplete
}

// Progress returns the progress of the current or most recent build. ok is
// false when no build has run in this process.
func (m *Manager) Progress() (async.ProgressSnapshot, bool) {
	m.mu.Lock()
	task := m.task
	m.mu.Unlock()
	if task == nil {
		return async.ProgressSnapshot{}, false
	}
	return task.Progress().Snapshot(), true
}

// Wait blocks until the current build finishes and returns its error. It
// returns nil immediately when no build has run.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	task := m.task
	m.mu.Unlock()
	if task == nil {
		return nil
	}
	return task.Wait(ctx)
}

// PendingCleanup lists directories whose deletion was deferred.
func (m *Manager) PendingCleanup() []string {
	return m.cleaner.Pending()
}

// Close cancels any running build, waits for it, closes the active reader
// and makes a last attempt at deferred deletions.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	task := m.task
	m.mu.Unlock()

	if task != nil && task.IsRunning() {
		m.logger.Info("rebuild_cancelled", slog.String("reason", "manager closing"))
		task.Cancel()
	}
	m.baseCancel()
	if task != nil {
		<-task.Done()
	}

	var err error
	m.swapMu.Lock()
	if m.reader != nil {
		err = m.reader.Close()
		m.reader = nil
	}
	m.swapMu.Unlock()

	m.cleaner.flush()
	return err
}

func (m *Manager) markLost() {
	m.mu.Lock()
	m.lost = true
	m.mu.Unlock()
}

func (m *Manager) isLost() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lost
}

func (m *Manager) persist(info ActiveInfo) {
	if err := saveState(m.statePath, info.persisted()); err != nil {
		m.logger.Warn("state_write_failed",
			slog.String("path", m.statePath),
			slog.String("error", err.Error()))
	}
}

func (m *Manager) openReader(location, backend string) (store.Reader, error) {
	engine, err := store.EngineFor(location, backend, m.storeOpts)
	if err != nil {
		return nil, err
	}
	return engine.OpenReader(location)
}
