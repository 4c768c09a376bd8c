package crawler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	amanerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/store"
)

// DefaultTimeout bounds a whole crawl.
const DefaultTimeout = time.Hour

// Skip reasons.
const (
	ReasonRestricted       = "restricted"
	ReasonPermissionDenied = "permission denied"
	ReasonVanished         = "vanished during crawl"
	ReasonRootUnreachable  = "root unreachable"
)

// Options configures a Crawler.
type Options struct {
	// Policy gates directory subtrees. Nil uses DefaultPolicy.
	Policy *Policy
	// Workers bounds how many roots are walked at once. 0 means NumCPU.
	Workers int
	// Timeout bounds the whole crawl. 0 means DefaultTimeout.
	Timeout time.Duration
	// EmitDirectories controls whether directory records are produced.
	// Sizes are aggregated either way.
	EmitDirectories bool
	// BufferSize is the record channel capacity.
	BufferSize int
	Logger     *slog.Logger
}

// SkipEntry is a path that was not indexed and why.
type SkipEntry struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report summarizes a finished crawl.
type Report struct {
	Roots       []string
	FailedRoots []string
	Records     int64
	Skipped     []SkipEntry
	// Incomplete is set when the crawl was cut short by timeout or
	// cancellation; Records is then a partial count.
	Incomplete bool
	Duration   time.Duration
}

// Crawler walks filesystem roots.
type Crawler struct {
	opts Options
}

// New creates a Crawler, filling in defaults.
func New(opts Options) *Crawler {
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = opts.Workers * 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Crawler{opts: opts}
}

// Crawl is one running traversal. Records must be drained until closed;
// Wait then returns the report.
type Crawl struct {
	records chan store.Record
	done    chan struct{}

	emitted atomic.Int64
	skipped atomic.Int64
	current atomic.Value // string

	mu    sync.Mutex
	skips []SkipEntry

	report Report
	err    error
}

// Start begins crawling roots in the background.
func (c *Crawler) Start(ctx context.Context, roots []string) (*Crawl, error) {
	if len(roots) == 0 {
		return nil, amanerrors.New(amanerrors.ErrCodeNoRoots, "no roots to crawl", nil)
	}

	cr := &Crawl{
		records: make(chan store.Record, c.opts.BufferSize),
		done:    make(chan struct{}),
	}
	cr.current.Store("")

	crawlCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	started := time.Now()
	c.opts.Logger.Info("crawl_started",
		slog.Int("roots", len(roots)),
		slog.Int("workers", c.opts.Workers),
		slog.Duration("timeout", c.opts.Timeout))

	go func() {
		defer close(cr.done)
		defer cancel()

		sizes := newSizeAccumulator()
		var (
			failedMu sync.Mutex
			failed   []string
		)

		var g errgroup.Group
		g.SetLimit(c.opts.Workers)
		for _, root := range roots {
			g.Go(func() error {
				w := &walker{opts: &c.opts, crawl: cr, sizes: sizes}
				if err := w.walkRoot(crawlCtx, root); err != nil && crawlCtx.Err() == nil {
					failedMu.Lock()
					failed = append(failed, root)
					failedMu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
		close(cr.records)

		cr.report = Report{
			Roots:       roots,
			FailedRoots: failed,
			Records:     cr.emitted.Load(),
			Skipped:     cr.skipList(),
			Duration:    time.Since(started),
		}

		switch {
		case ctx.Err() != nil:
			cr.report.Incomplete = true
			cr.err = fmt.Errorf("crawl cancelled: %w", ctx.Err())
		case crawlCtx.Err() != nil:
			cr.report.Incomplete = true
			cr.err = amanerrors.New(amanerrors.ErrCodeCrawlTimeout,
				fmt.Sprintf("crawl did not finish within %s", c.opts.Timeout), crawlCtx.Err())
		case len(failed) == len(roots):
			cr.err = amanerrors.New(amanerrors.ErrCodeNoRoots, "every crawl root was unreachable", nil)
		}

		if leftover := sizes.len(); leftover > 0 && cr.err == nil {
			c.opts.Logger.Warn("crawl_size_leftover", slog.Int("directories", leftover))
		}
		c.opts.Logger.Info("crawl_finished",
			slog.Int64("records", cr.report.Records),
			slog.Int("skipped", len(cr.report.Skipped)),
			slog.Int("failed_roots", len(failed)),
			slog.Bool("incomplete", cr.report.Incomplete),
			slog.Duration("duration", cr.report.Duration))
	}()

	return cr, nil
}

// Records streams crawled records. The channel closes when every root
// walker has returned.
func (cr *Crawl) Records() <-chan store.Record { return cr.records }

// Done is closed once the report is available.
func (cr *Crawl) Done() <-chan struct{} { return cr.done }

// Wait blocks until the crawl finishes. The caller must keep draining
// Records, or cancel the context passed to Start.
func (cr *Crawl) Wait() (Report, error) {
	<-cr.done
	return cr.report, cr.err
}

// Emitted returns how many records have been sent so far.
func (cr *Crawl) Emitted() int64 { return cr.emitted.Load() }

// SkippedCount returns how many skip entries have been recorded so far.
func (cr *Crawl) SkippedCount() int64 { return cr.skipped.Load() }

// CurrentRoot returns the root most recently started.
func (cr *Crawl) CurrentRoot() string {
	s, _ := cr.current.Load().(string)
	return s
}

func (cr *Crawl) addSkip(path, reason string) {
	cr.mu.Lock()
	cr.skips = append(cr.skips, SkipEntry{Path: path, Reason: reason})
	cr.mu.Unlock()
	cr.skipped.Add(1)
}

func (cr *Crawl) skipList() []SkipEntry {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return append([]SkipEntry(nil), cr.skips...)
}

// walker is one root's depth-first traversal.
type walker struct {
	opts  *Options
	crawl *Crawl
	sizes *sizeAccumulator
	// stack holds the directories currently open, root first.
	stack []string
}

func (w *walker) walkRoot(ctx context.Context, root string) error {
	w.crawl.current.Store(root)
	log := w.opts.Logger.With(slog.String("root", root))

	info, err := os.Stat(root)
	if err != nil {
		log.Warn("crawl_root_failed", slog.String("error", err.Error()))
		w.crawl.addSkip(root, ReasonRootUnreachable)
		return amanerrors.New(amanerrors.ErrCodeRootUnreachable, "root unreachable: "+root, err)
	}
	if !info.IsDir() {
		return w.emitFile(ctx, root, uint64(info.Size()))
	}
	if w.opts.Policy.IsRestricted(root) {
		log.Info("crawl_root_restricted")
		w.crawl.addSkip(root, ReasonRestricted)
		return nil
	}

	err = w.walkDir(ctx, root)
	if errors.Is(err, errRootUnreadable) {
		log.Warn("crawl_root_failed", slog.String("error", err.Error()))
		w.crawl.addSkip(root, ReasonRootUnreachable)
		return amanerrors.New(amanerrors.ErrCodeRootUnreachable, "root unreadable: "+root, err)
	}
	return err
}

var errRootUnreadable = errors.New("root directory unreadable")

// walkDir visits dir's subtree and then emits dir itself with its final
// aggregated size. It returns only context errors and errRootUnreadable;
// everything else becomes a skip entry.
func (w *walker) walkDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if len(w.stack) == 0 {
			return fmt.Errorf("%w: %v", errRootUnreadable, err)
		}
		w.skipErr(dir, err)
		return nil
	}

	w.stack = append(w.stack, dir)
	defer func() { w.stack = w.stack[:len(w.stack)-1] }()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(dir, e.Name())

		switch {
		case e.IsDir():
			if w.opts.Policy.IsRestricted(path) {
				w.opts.Logger.Debug("crawl_restricted_skipped", slog.String("path", path))
				w.crawl.addSkip(path, ReasonRestricted)
				continue
			}
			if err := w.walkDir(ctx, path); err != nil {
				return err
			}
		case e.Type()&fs.ModeSymlink != 0:
			// Links are indexed by name but never followed. A link to a
			// directory is recorded as a directory of size zero.
			if err := w.emit(ctx, path, !linksToDir(path), 0); err != nil {
				return err
			}
		default:
			info, err := e.Info()
			if err != nil {
				w.skipErr(path, err)
				continue
			}
			if err := w.emitFile(ctx, path, uint64(info.Size())); err != nil {
				return err
			}
		}
	}

	size := w.sizes.take(dir)
	if !w.opts.EmitDirectories {
		return nil
	}
	return w.emit(ctx, dir, false, size)
}

func (w *walker) emitFile(ctx context.Context, path string, size uint64) error {
	w.sizes.addAll(w.stack, size)
	return w.emit(ctx, path, true, size)
}

func (w *walker) emit(ctx context.Context, path string, isFile bool, size uint64) error {
	rec, err := NewRecord(path, isFile, size)
	if err != nil {
		w.opts.Logger.Debug("crawl_record_skipped",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}
	select {
	case w.crawl.records <- rec:
		w.crawl.emitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// linksToDir reports whether the symlink at path resolves to a directory.
// Dangling links count as files.
func linksToDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func (w *walker) skipErr(path string, err error) {
	reason := err.Error()
	switch {
	case errors.Is(err, fs.ErrPermission):
		reason = ReasonPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		reason = ReasonVanished
	}
	w.opts.Logger.Debug("crawl_entry_skipped",
		slog.String("path", path),
		slog.String("reason", reason))
	w.crawl.addSkip(path, reason)
}
