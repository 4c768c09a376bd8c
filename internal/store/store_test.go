package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var backends = []string{BackendBleve, BackendSQLite}

func sampleRecords() []Record {
	return []Record{
		{NameOriginal: "Projects", NameNormalized: "projects", ParentPath: "/r", AbsolutePath: "/r/Projects", SizeBytes: 300},
		{NameOriginal: "Report.PDF", NameNormalized: "report.pdf", ParentPath: "/r/Projects", AbsolutePath: "/r/Projects/Report.PDF", IsFile: true, SizeBytes: 100},
		{NameOriginal: "report_final.docx", NameNormalized: "report_final.docx", ParentPath: "/r/Projects", AbsolutePath: "/r/Projects/report_final.docx", IsFile: true, SizeBytes: 200},
		{NameOriginal: "notes.txt", NameNormalized: "notes.txt", ParentPath: "/r", AbsolutePath: "/r/notes.txt", IsFile: true},
		{NameOriginal: "reports", NameNormalized: "reports", ParentPath: "/r", AbsolutePath: "/r/reports"},
	}
}

// buildGeneration writes recs into a fresh location and commits it.
func buildGeneration(t *testing.T, backend string, recs []Record, batch int) (string, Marker) {
	t.Helper()
	engine, err := NewEngine(backend, Options{BatchSize: batch})
	require.NoError(t, err)

	location := filepath.Join(t.TempDir(), "gen-1")
	w, err := engine.OpenWriter(context.Background(), location)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Add(r))
	}
	assert.Equal(t, len(recs), w.Added())

	m, err := w.Commit(context.Background(), Marker{GenerationID: "g1", BuiltAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return location, m
}

func paths(ms []Match) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.AbsolutePath)
	}
	sort.Strings(out)
	return out
}

func TestEngine_WriteCommitQuery(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			// Given: a committed generation with small batches
			location, m := buildGeneration(t, backend, sampleRecords(), 2)

			// Then: the marker reflects the backend and count
			assert.Equal(t, backend, m.Backend)
			assert.Equal(t, uint64(5), m.RecordCount)
			assert.True(t, IsCommitted(location))

			engine, err := NewEngine(backend, Options{})
			require.NoError(t, err)
			r, err := engine.OpenReader(location)
			require.NoError(t, err)
			defer r.Close()

			n, err := r.DocCount()
			require.NoError(t, err)
			assert.Equal(t, uint64(5), n)

			// When: querying a case-insensitive substring
			got, err := r.Query(context.Background(), Query{Text: "REPORT", Limit: 10})
			require.NoError(t, err)
			assert.Equal(t, []string{"/r/Projects/Report.PDF", "/r/Projects/report_final.docx", "/r/reports"}, paths(got))

			// Then: stored fields come back intact
			for _, hit := range got {
				if hit.AbsolutePath == "/r/Projects/Report.PDF" {
					assert.Equal(t, "Report.PDF", hit.NameOriginal)
					assert.Equal(t, "report.pdf", hit.NameNormalized)
					assert.Equal(t, "/r/Projects", hit.ParentPath)
					assert.True(t, hit.IsFile)
					assert.Equal(t, uint64(100), hit.SizeBytes)
				}
			}
		})
	}
}

func TestEngine_QueryVariants(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			location, _ := buildGeneration(t, backend, sampleRecords(), 100)
			engine, err := NewEngine(backend, Options{})
			require.NoError(t, err)
			r, err := engine.OpenReader(location)
			require.NoError(t, err)
			defer r.Close()
			ctx := context.Background()

			files, err := r.Query(ctx, Query{Text: "report", FilesOnly: true})
			require.NoError(t, err)
			assert.Equal(t, []string{"/r/Projects/Report.PDF", "/r/Projects/report_final.docx"}, paths(files))

			wild, err := r.Query(ctx, Query{Text: "*.pdf"})
			require.NoError(t, err)
			assert.Equal(t, []string{"/r/Projects/Report.PDF"}, paths(wild))

			single, err := r.Query(ctx, Query{Text: "note?.txt"})
			require.NoError(t, err)
			assert.Equal(t, []string{"/r/notes.txt"}, paths(single))

			limited, err := r.Query(ctx, Query{Text: "r", Limit: 2})
			require.NoError(t, err)
			assert.Len(t, limited, 2)

			none, err := r.Query(ctx, Query{Text: "missing"})
			require.NoError(t, err)
			assert.Empty(t, none)

			_, err = r.Query(ctx, Query{Text: "   "})
			assert.ErrorIs(t, err, ErrEmptyQuery)
		})
	}
}

func TestEngine_DuplicatePathsCountOnce(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			recs := sampleRecords()
			recs = append(recs, recs[1])

			location, m := buildGeneration(t, backend, recs, 100)

			assert.Equal(t, uint64(5), m.RecordCount)
			_, err := Verify(location, Options{})
			assert.NoError(t, err)
		})
	}
}

func TestEngine_UncommittedLocationIsInert(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			// Given: a writer that is closed without commit
			engine, err := NewEngine(backend, Options{})
			require.NoError(t, err)
			location := filepath.Join(t.TempDir(), "gen-abandoned")
			w, err := engine.OpenWriter(context.Background(), location)
			require.NoError(t, err)
			require.NoError(t, w.Add(sampleRecords()[0]))
			require.NoError(t, w.Close())

			// Then: the location is not committed and Verify refuses it
			assert.False(t, IsCommitted(location))
			_, err = Verify(location, Options{})
			assert.ErrorIs(t, err, ErrNotCommitted)

			// And: adding after close fails
			assert.ErrorIs(t, w.Add(sampleRecords()[1]), ErrClosed)
		})
	}
}

func TestEngine_OpenWriterRefusesExistingIndex(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			location, _ := buildGeneration(t, backend, sampleRecords(), 10)
			engine, err := NewEngine(backend, Options{})
			require.NoError(t, err)

			_, err = engine.OpenWriter(context.Background(), location)
			assert.Error(t, err)
		})
	}
}

func TestReader_ClosedReaderRejectsQueries(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			location, _ := buildGeneration(t, backend, sampleRecords(), 10)
			engine, err := NewEngine(backend, Options{})
			require.NoError(t, err)
			r, err := engine.OpenReader(location)
			require.NoError(t, err)

			require.NoError(t, r.Close())
			require.NoError(t, r.Close())

			_, err = r.Query(context.Background(), Query{Text: "x"})
			assert.ErrorIs(t, err, ErrClosed)
			_, err = r.DocCount()
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestVerify_DetectsCountMismatch(t *testing.T) {
	location, m := buildGeneration(t, BackendBleve, sampleRecords(), 10)

	m.RecordCount = 99
	require.NoError(t, WriteMarker(location, m))

	_, err := Verify(location, Options{})
	assert.Error(t, err)
}

func TestReadMarker_CorruptMarker(t *testing.T) {
	location := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(location, MarkerFile), []byte("{not json"), 0o644))

	_, err := ReadMarker(location)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotCommitted)
	assert.False(t, IsCommitted(location))
	assert.False(t, IsCommitted(""))
}

func TestBleveReader_RejectsDamagedIndex(t *testing.T) {
	location, _ := buildGeneration(t, BackendBleve, sampleRecords(), 10)
	require.NoError(t, os.WriteFile(filepath.Join(location, bleveDir, "index_meta.json"), nil, 0o644))

	engine, err := NewEngine(BackendBleve, Options{})
	require.NoError(t, err)
	_, err = engine.OpenReader(location)
	assert.Error(t, err)
}

func TestNewEngine_Backends(t *testing.T) {
	e, err := NewEngine("", Options{})
	require.NoError(t, err)
	assert.Equal(t, BackendBleve, e.Name())

	e, err = NewEngine("SQLite", Options{})
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, e.Name())

	_, err = NewEngine("lucene", Options{})
	assert.Error(t, err)
}

func TestEngineFor_PrefersMarkerBackend(t *testing.T) {
	location, _ := buildGeneration(t, BackendSQLite, sampleRecords(), 10)

	e, err := EngineFor(location, BackendBleve, Options{})
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, e.Name())

	e, err = EngineFor(t.TempDir(), BackendBleve, Options{})
	require.NoError(t, err)
	assert.Equal(t, BackendBleve, e.Name())
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%abc%", likePattern("abc"))
	assert.Equal(t, `%50\%\_off%`, likePattern("50%_off"))
	assert.Equal(t, "%.pdf", likePattern("*.pdf"))
	assert.Equal(t, "a_c", likePattern("a?c"))
	assert.Equal(t, "*abc*", wildcardPattern("abc"))
	assert.Equal(t, "a*", wildcardPattern("a*"))
}
