package crawler

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/logging"
	"github.com/Aman-CERP/amanfind/internal/store"
)

func writeSized(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644))
}

// runCrawl drains a crawl and returns records in emission order.
func runCrawl(t *testing.T, opts Options, roots ...string) ([]store.Record, Report, error) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	cr, err := New(opts).Start(context.Background(), roots)
	require.NoError(t, err)

	var recs []store.Record
	for r := range cr.Records() {
		recs = append(recs, r)
	}
	report, err := cr.Wait()
	return recs, report, err
}

func byPath(recs []store.Record) map[string]store.Record {
	m := make(map[string]store.Record, len(recs))
	for _, r := range recs {
		m[r.AbsolutePath] = r
	}
	return m
}

func indexOf(recs []store.Record, path string) int {
	for i, r := range recs {
		if r.AbsolutePath == path {
			return i
		}
	}
	return -1
}

func TestCrawl_AggregatesDirectorySizes(t *testing.T) {
	// Given: R/X/A(10), R/X/B(20), R/C(5)
	root := filepath.Join(t.TempDir(), "R")
	writeSized(t, filepath.Join(root, "X", "A"), 10)
	writeSized(t, filepath.Join(root, "X", "B"), 20)
	writeSized(t, filepath.Join(root, "C"), 5)

	// When: crawling R
	recs, report, err := runCrawl(t, Options{EmitDirectories: true}, root)
	require.NoError(t, err)

	// Then: files keep their sizes and directories carry descendant totals
	got := byPath(recs)
	require.Len(t, got, 5)
	assert.Equal(t, uint64(10), got[filepath.Join(root, "X", "A")].SizeBytes)
	assert.Equal(t, uint64(20), got[filepath.Join(root, "X", "B")].SizeBytes)
	assert.Equal(t, uint64(5), got[filepath.Join(root, "C")].SizeBytes)
	assert.Equal(t, uint64(30), got[filepath.Join(root, "X")].SizeBytes)
	assert.Equal(t, uint64(35), got[root].SizeBytes)
	assert.False(t, got[root].IsFile)
	assert.True(t, got[filepath.Join(root, "C")].IsFile)

	// And: a directory is emitted after everything below it
	x := indexOf(recs, filepath.Join(root, "X"))
	assert.Greater(t, x, indexOf(recs, filepath.Join(root, "X", "A")))
	assert.Greater(t, x, indexOf(recs, filepath.Join(root, "X", "B")))
	assert.Equal(t, len(recs)-1, indexOf(recs, root))

	assert.Equal(t, int64(5), report.Records)
	assert.Empty(t, report.Skipped)
	assert.False(t, report.Incomplete)
}

func TestCrawl_DirectorySizeEqualsSumOfDescendants(t *testing.T) {
	// Given: a deeper tree with uneven fan-out
	root := t.TempDir()
	for i := 0; i < 4; i++ {
		for j := 0; j <= i; j++ {
			for k := 0; k < 3; k++ {
				writeSized(t, filepath.Join(root, fmt.Sprintf("d%d", i), fmt.Sprintf("e%d", j), fmt.Sprintf("f%d", k)), (i+1)*(j+2)+k)
			}
		}
		writeSized(t, filepath.Join(root, fmt.Sprintf("d%d", i), "top"), 7*i)
	}

	// When: crawling with several workers
	recs, _, err := runCrawl(t, Options{EmitDirectories: true, Workers: 4}, root)
	require.NoError(t, err)

	// Then: every directory size matches an independent walk
	for _, r := range recs {
		if r.IsFile {
			continue
		}
		var want uint64
		require.NoError(t, filepath.WalkDir(r.AbsolutePath, func(_ string, d fs.DirEntry, err error) error {
			require.NoError(t, err)
			if d.Type().IsRegular() {
				info, err := d.Info()
				require.NoError(t, err)
				want += uint64(info.Size())
			}
			return nil
		}))
		assert.Equal(t, want, r.SizeBytes, r.AbsolutePath)
	}
}

func TestCrawl_RestrictedSubtreeSkippedOnce(t *testing.T) {
	// Given: a restricted directory holding a readable subdirectory with files
	root := t.TempDir()
	writeSized(t, filepath.Join(root, "keep", "a.txt"), 3)
	writeSized(t, filepath.Join(root, "$RECYCLE.BIN", "sub", "deleted.txt"), 100)
	writeSized(t, filepath.Join(root, "$RECYCLE.BIN", "other.txt"), 100)

	// When: crawling
	recs, report, err := runCrawl(t, Options{EmitDirectories: true}, root)
	require.NoError(t, err)

	// Then: nothing under the restricted directory is indexed
	restricted := filepath.Join(root, "$RECYCLE.BIN")
	for _, r := range recs {
		assert.False(t, within(r.AbsolutePath, restricted), r.AbsolutePath)
	}
	// And: exactly one skip entry names the restricted directory itself
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, SkipEntry{Path: restricted, Reason: ReasonRestricted}, report.Skipped[0])
	// And: restricted content does not count toward the root size
	assert.Equal(t, uint64(3), byPath(recs)[root].SizeBytes)
}

func TestCrawl_ExtraRestrictedFragments(t *testing.T) {
	root := t.TempDir()
	writeSized(t, filepath.Join(root, "src", "node_modules", "pkg", "index.js"), 9)
	writeSized(t, filepath.Join(root, "src", "main.go"), 4)

	recs, report, err := runCrawl(t, Options{Policy: NewPolicy([]string{"node_modules"}), EmitDirectories: true}, root)
	require.NoError(t, err)

	got := byPath(recs)
	assert.Contains(t, got, filepath.Join(root, "src", "main.go"))
	assert.NotContains(t, got, filepath.Join(root, "src", "node_modules"))
	assert.Len(t, report.Skipped, 1)
}

func TestCrawl_FilesOnlyStillAggregates(t *testing.T) {
	root := t.TempDir()
	writeSized(t, filepath.Join(root, "d", "a"), 1)
	writeSized(t, filepath.Join(root, "d", "e", "b"), 2)

	recs, report, err := runCrawl(t, Options{EmitDirectories: false}, root)
	require.NoError(t, err)

	for _, r := range recs {
		assert.True(t, r.IsFile, r.AbsolutePath)
	}
	assert.Len(t, recs, 2)
	assert.Equal(t, int64(2), report.Records)
}

func TestCrawl_SymlinksIndexedButNotFollowed(t *testing.T) {
	// Given: a link inside the root pointing at a directory outside it
	outside := t.TempDir()
	writeSized(t, filepath.Join(outside, "secret.bin"), 50)
	root := t.TempDir()
	writeSized(t, filepath.Join(root, "real.txt"), 2)
	link := filepath.Join(root, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	// When: crawling
	recs, _, err := runCrawl(t, Options{EmitDirectories: true}, root)
	require.NoError(t, err)

	// Then: the link is a sized-zero directory entry and its target is not walked
	got := byPath(recs)
	require.Contains(t, got, link)
	assert.Equal(t, uint64(0), got[link].SizeBytes)
	assert.False(t, got[link].IsFile)
	assert.NotContains(t, got, filepath.Join(link, "secret.bin"))
	assert.Equal(t, uint64(2), got[root].SizeBytes)
}

func TestCrawl_SymlinkTypeFollowsTarget(t *testing.T) {
	// Given: links to a file and to a missing target
	root := t.TempDir()
	writeSized(t, filepath.Join(root, "data.csv"), 7)
	fileLink := filepath.Join(root, "latest.csv")
	dangling := filepath.Join(root, "gone")
	if err := os.Symlink(filepath.Join(root, "data.csv"), fileLink); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(root, "missing"), dangling))

	// When: crawling files only
	recs, _, err := runCrawl(t, Options{}, root)
	require.NoError(t, err)

	// Then: both links are zero-sized files
	got := byPath(recs)
	require.Contains(t, got, fileLink)
	require.Contains(t, got, dangling)
	assert.True(t, got[fileLink].IsFile)
	assert.True(t, got[dangling].IsFile)
	assert.Equal(t, uint64(0), got[fileLink].SizeBytes)
}

func TestCrawl_PermissionDeniedIsSkipped(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	root := t.TempDir()
	writeSized(t, filepath.Join(root, "open", "a"), 1)
	locked := filepath.Join(root, "locked")
	writeSized(t, filepath.Join(locked, "hidden"), 1)
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	recs, report, err := runCrawl(t, Options{EmitDirectories: true}, root)
	require.NoError(t, err)

	assert.NotContains(t, byPath(recs), locked)
	assert.Contains(t, byPath(recs), filepath.Join(root, "open", "a"))
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, SkipEntry{Path: locked, Reason: ReasonPermissionDenied}, report.Skipped[0])
}

func TestCrawl_UnreachableRootDoesNotStopOthers(t *testing.T) {
	good := t.TempDir()
	writeSized(t, filepath.Join(good, "f"), 1)
	missing := filepath.Join(t.TempDir(), "gone")

	recs, report, err := runCrawl(t, Options{EmitDirectories: true, Workers: 2}, missing, good)
	require.NoError(t, err)

	assert.Contains(t, byPath(recs), filepath.Join(good, "f"))
	assert.Equal(t, []string{missing}, report.FailedRoots)
	assert.Contains(t, report.Skipped, SkipEntry{Path: missing, Reason: ReasonRootUnreachable})
}

func TestCrawl_AllRootsUnreachable(t *testing.T) {
	base := t.TempDir()

	_, report, err := runCrawl(t, Options{}, filepath.Join(base, "a"), filepath.Join(base, "b"))

	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeNoRoots))
	assert.Len(t, report.FailedRoots, 2)
}

func TestCrawl_ParallelRoots(t *testing.T) {
	var roots []string
	for i := 0; i < 6; i++ {
		r := t.TempDir()
		writeSized(t, filepath.Join(r, "sub", "file"), i+1)
		roots = append(roots, r)
	}

	recs, report, err := runCrawl(t, Options{EmitDirectories: true, Workers: 3}, roots...)
	require.NoError(t, err)

	got := byPath(recs)
	for i, r := range roots {
		assert.Equal(t, uint64(i+1), got[r].SizeBytes)
	}
	assert.Equal(t, int64(len(roots)*3), report.Records)
}

func TestCrawl_TimeoutMarksIncomplete(t *testing.T) {
	// Given: more entries than the record buffer holds and nobody draining
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeSized(t, filepath.Join(root, fmt.Sprintf("f%02d", i)), 1)
	}
	cr, err := New(Options{Timeout: 50 * time.Millisecond, BufferSize: 1, Logger: logging.Discard()}).
		Start(context.Background(), []string{root})
	require.NoError(t, err)

	// When: the timeout elapses
	report, err := cr.Wait()

	// Then: the crawl reports a timeout with a partial count
	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeCrawlTimeout))
	assert.True(t, report.Incomplete)
	assert.Less(t, report.Records, int64(20))
}

func TestCrawl_CancelledContext(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		writeSized(t, filepath.Join(root, fmt.Sprintf("f%d", i)), 1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cr, err := New(Options{BufferSize: 1, Logger: logging.Discard()}).Start(ctx, []string{root})
	require.NoError(t, err)

	cancel()
	report, err := cr.Wait()

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, amanerrors.HasCode(err, amanerrors.ErrCodeCrawlTimeout))
	assert.True(t, report.Incomplete)
}

func TestCrawler_StartWithoutRoots(t *testing.T) {
	_, err := New(Options{}).Start(context.Background(), nil)

	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeNoRoots))
}
