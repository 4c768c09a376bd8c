package generation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanfind/internal/async"
	"github.com/Aman-CERP/amanfind/internal/crawler"
	amanerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/logging"
	"github.com/Aman-CERP/amanfind/internal/store"
)

func makeTree(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "R")
	files := map[string]int{
		filepath.Join("X", "A"):                   10,
		filepath.Join("X", "B"):                   20,
		"C":                                       5,
		filepath.Join("$Recycle.Bin", "junk.txt"): 99,
	}
	for rel, size := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(strings.Repeat("x", size)), 0o644))
	}
	return root
}

func newBuilder(t *testing.T, engine store.Engine, opts crawler.Options) (*Builder, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "generations")
	opts.Logger = logging.Discard()
	b, err := NewBuilder(Config{
		Dir:     dir,
		Engine:  engine,
		Crawler: crawler.New(opts),
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)
	return b, dir
}

func TestBuild_CommitsIsolatedGeneration(t *testing.T) {
	for _, backend := range []string{store.BackendBleve, store.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			// Given: a tree and a builder
			root := makeTree(t)
			engine, err := store.NewEngine(backend, store.Options{BatchSize: 2})
			require.NoError(t, err)
			b, dir := newBuilder(t, engine, crawler.Options{EmitDirectories: true})
			progress := async.NewProgress()

			// When: building
			gen, err := b.Build(context.Background(), []string{root}, progress)
			require.NoError(t, err)

			// Then: a committed generation lives under the generations dir
			assert.Equal(t, dir, filepath.Dir(gen.Location))
			assert.True(t, strings.HasPrefix(filepath.Base(gen.Location), DirPrefix+gen.ID))
			assert.True(t, store.IsCommitted(gen.Location))
			assert.Equal(t, backend, gen.Backend)
			assert.Equal(t, uint64(5), gen.RecordCount, "R, X, A, B, C")
			assert.Equal(t, 5, gen.Added)
			require.Len(t, gen.SkippedPaths, 1)
			assert.Equal(t, crawler.ReasonRestricted, gen.SkippedPaths[0].Reason)
			assert.False(t, gen.BuiltAt.IsZero())

			m, err := store.Verify(gen.Location, store.Options{})
			require.NoError(t, err)
			assert.Equal(t, gen.ID, m.GenerationID)

			snap := progress.Snapshot()
			assert.Equal(t, gen.ID, snap.GenerationID)
			assert.Equal(t, int64(5), snap.Records)
			assert.Equal(t, int64(1), snap.Skipped)
		})
	}
}

func TestBuild_SizesReachTheIndex(t *testing.T) {
	root := makeTree(t)
	engine, err := store.NewEngine(store.BackendBleve, store.Options{})
	require.NoError(t, err)
	b, _ := newBuilder(t, engine, crawler.Options{EmitDirectories: true})

	gen, err := b.Build(context.Background(), []string{root}, nil)
	require.NoError(t, err)

	r, err := engine.OpenReader(gen.Location)
	require.NoError(t, err)
	defer r.Close()

	want := map[string]uint64{"a": 10, "b": 20, "x": 30, "c": 5, "r": 35}
	for name, size := range want {
		exact, err := r.Query(context.Background(), store.Query{Text: name + "*", Limit: 50})
		require.NoError(t, err)
		found := false
		for _, h := range exact {
			if h.NameNormalized == name {
				assert.Equal(t, size, h.SizeBytes, name)
				found = true
			}
		}
		assert.True(t, found, name)
	}
}

func TestBuild_EachBuildGetsFreshLocation(t *testing.T) {
	root := makeTree(t)
	engine, err := store.NewEngine(store.BackendBleve, store.Options{})
	require.NoError(t, err)
	b, _ := newBuilder(t, engine, crawler.Options{EmitDirectories: true})

	g1, err := b.Build(context.Background(), []string{root}, nil)
	require.NoError(t, err)
	g2, err := b.Build(context.Background(), []string{root}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, g1.Location, g2.Location)
	assert.True(t, store.IsCommitted(g1.Location), "earlier generation untouched")
}

func TestBuild_NoRootsFails(t *testing.T) {
	engine, err := store.NewEngine(store.BackendBleve, store.Options{})
	require.NoError(t, err)
	b, _ := newBuilder(t, engine, crawler.Options{})

	_, err = b.Build(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, nil)

	require.Error(t, err)
	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.False(t, store.IsCommitted(f.Location))
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeNoRoots))
}

func TestBuild_TimeoutFailsWithoutCommit(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "f"+strings.Repeat("x", i)), []byte("x"), 0o644))
	}
	engine := &slowEngine{Engine: mustEngine(t), delay: 5 * time.Millisecond}
	b, _ := newBuilder(t, engine, crawler.Options{Timeout: 30 * time.Millisecond, BufferSize: 1})

	_, err := b.Build(context.Background(), []string{root}, nil)

	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeCrawlTimeout))
	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.True(t, f.Report.Incomplete)
	assert.False(t, store.IsCommitted(f.Location))
}

func TestBuild_WriterErrorFails(t *testing.T) {
	root := makeTree(t)
	engine := &failingEngine{Engine: mustEngine(t), failAfter: 2}
	b, _ := newBuilder(t, engine, crawler.Options{EmitDirectories: true})

	_, err := b.Build(context.Background(), []string{root}, nil)

	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeIndexFailed))
	assert.ErrorIs(t, err, errDiskGone)
	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.DirExists(t, f.Location, "left for the caller to clean up")
}

func TestNewBuilder_Validation(t *testing.T) {
	engine := mustEngine(t)
	c := crawler.New(crawler.Options{})

	_, err := NewBuilder(Config{Engine: engine, Crawler: c})
	assert.Error(t, err)
	_, err = NewBuilder(Config{Dir: "x", Crawler: c})
	assert.Error(t, err)
	_, err = NewBuilder(Config{Dir: "x", Engine: engine})
	assert.Error(t, err)
}

func mustEngine(t *testing.T) store.Engine {
	t.Helper()
	e, err := store.NewEngine(store.BackendBleve, store.Options{})
	require.NoError(t, err)
	return e
}

var errDiskGone = errors.New("disk gone")

// failingEngine wraps writers so Add fails after failAfter records.
type failingEngine struct {
	store.Engine
	failAfter int
}

func (e *failingEngine) OpenWriter(ctx context.Context, location string) (store.Writer, error) {
	w, err := e.Engine.OpenWriter(ctx, location)
	if err != nil {
		return nil, err
	}
	return &failingWriter{Writer: w, failAfter: e.failAfter}, nil
}

type failingWriter struct {
	store.Writer
	failAfter int
}

func (w *failingWriter) Add(rec store.Record) error {
	if w.Added() >= w.failAfter {
		return errDiskGone
	}
	return w.Writer.Add(rec)
}

// slowEngine wraps writers so every Add sleeps.
type slowEngine struct {
	store.Engine
	delay time.Duration
}

func (e *slowEngine) OpenWriter(ctx context.Context, location string) (store.Writer, error) {
	w, err := e.Engine.OpenWriter(ctx, location)
	if err != nil {
		return nil, err
	}
	return &slowWriter{Writer: w, delay: e.delay}, nil
}

type slowWriter struct {
	store.Writer
	delay time.Duration
}

func (w *slowWriter) Add(rec store.Record) error {
	time.Sleep(w.delay)
	return w.Writer.Add(rec)
}
