// Package generation builds one complete index generation in an isolated
// directory. It never touches the active generation.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/amanfind/internal/async"
	"github.com/Aman-CERP/amanfind/internal/crawler"
	amanerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/store"
)

// DirPrefix names generation directories: gen-<uuid>.
const DirPrefix = "gen-"

// progressEvery is how many records pass between progress updates.
const progressEvery = 500

// Generation is a committed build.
type Generation struct {
	ID          string
	Location    string
	Backend     string
	RecordCount uint64
	// Added counts records handed to the writer, duplicates included.
	Added        int
	SkippedPaths []crawler.SkipEntry
	FailedRoots  []string
	BuiltAt      time.Time
	Duration     time.Duration
}

// Failure is returned when a build does not commit. Location is the
// temporary directory the caller must clean up.
type Failure struct {
	ID       string
	Location string
	Report   crawler.Report
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("build of %s failed: %v", f.Location, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure extracts a *Failure from err's chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Config configures a Builder.
type Config struct {
	// Dir is the parent of all generation directories.
	Dir     string
	Engine  store.Engine
	Crawler *crawler.Crawler
	Logger  *slog.Logger
}

// Builder runs full builds.
type Builder struct {
	dir     string
	engine  store.Engine
	crawler *crawler.Crawler
	logger  *slog.Logger
}

// NewBuilder validates cfg and returns a Builder.
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("generation directory is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Crawler == nil {
		return nil, fmt.Errorf("crawler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{dir: cfg.Dir, engine: cfg.Engine, crawler: cfg.Crawler, logger: logger}, nil
}

// Dir returns the parent directory of generations.
func (b *Builder) Dir() string { return b.dir }

// Build crawls roots into a fresh generation directory and commits it.
// progress may be nil. On failure the returned error is a *Failure.
func (b *Builder) Build(ctx context.Context, roots []string, progress *async.Progress) (*Generation, error) {
	if progress == nil {
		progress = async.NewProgress()
	}
	started := time.Now()
	id := uuid.NewString()
	location := filepath.Join(b.dir, DirPrefix+id)
	progress.SetGeneration(id)
	log := b.logger.With(slog.String("generation", id))

	fail := func(report crawler.Report, err error) (*Generation, error) {
		switch _, ok := amanerrors.As(err); {
		case ok:
		case errors.Is(err, syscall.ENOSPC):
			err = amanerrors.New(amanerrors.ErrCodeDiskFull, "no space left for the new generation", err).
				WithSuggestion("Free space on the index volume or move --index-dir")
		default:
			err = amanerrors.BuildError("index build failed", err)
		}
		log.Warn("build_failed",
			slog.String("location", location),
			slog.String("error", err.Error()))
		return nil, &Failure{ID: id, Location: location, Report: report, Err: err}
	}

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fail(crawler.Report{}, fmt.Errorf("failed to create %s: %w", b.dir, err))
	}
	if err := os.Mkdir(location, 0o755); err != nil {
		return fail(crawler.Report{}, fmt.Errorf("failed to allocate %s: %w", location, err))
	}

	w, err := b.engine.OpenWriter(ctx, location)
	if err != nil {
		return fail(crawler.Report{}, fmt.Errorf("failed to open writer: %w", err))
	}
	defer w.Close()

	log.Info("build_started",
		slog.String("location", location),
		slog.String("backend", b.engine.Name()),
		slog.Int("roots", len(roots)))

	crawlCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	progress.SetStage(async.StageCrawling)
	crawl, err := b.crawler.Start(crawlCtx, roots)
	if err != nil {
		return fail(crawler.Report{}, err)
	}

	var addErr error
	for rec := range crawl.Records() {
		if addErr != nil {
			continue
		}
		if err := w.Add(rec); err != nil {
			addErr = err
			cancel()
			continue
		}
		if w.Added()%progressEvery == 0 {
			progress.UpdateCrawl(crawl.CurrentRoot(), crawl.Emitted(), crawl.SkippedCount())
		}
	}
	report, crawlErr := crawl.Wait()
	progress.UpdateCrawl(crawl.CurrentRoot(), report.Records, int64(len(report.Skipped)))

	switch {
	case addErr != nil:
		return fail(report, fmt.Errorf("failed to write record: %w", addErr))
	case crawlErr != nil:
		return fail(report, crawlErr)
	case report.Incomplete:
		return fail(report, amanerrors.New(amanerrors.ErrCodeCrawlTimeout, "crawl incomplete", nil))
	}

	progress.SetStage(async.StageCommitting)
	builtAt := time.Now().UTC()
	marker, err := w.Commit(ctx, store.Marker{GenerationID: id, BuiltAt: builtAt})
	if err != nil {
		return fail(report, fmt.Errorf("failed to commit: %w", err))
	}

	gen := &Generation{
		ID:           id,
		Location:     location,
		Backend:      marker.Backend,
		RecordCount:  marker.RecordCount,
		Added:        w.Added(),
		SkippedPaths: report.Skipped,
		FailedRoots:  report.FailedRoots,
		BuiltAt:      builtAt,
		Duration:     time.Since(started),
	}
	log.Info("build_committed",
		slog.String("location", location),
		slog.Uint64("records", gen.RecordCount),
		slog.Int("skipped", len(gen.SkippedPaths)),
		slog.Duration("duration", gen.Duration))
	return gen, nil
}
