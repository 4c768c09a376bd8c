package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

// bleveDir is the bleve index directory inside a generation.
const bleveDir = "index.bleve"

// Stored field names.
const (
	fieldName           = "name"
	fieldNameNormalized = "name_normalized"
	fieldParent         = "parent"
	fieldPath           = "path"
	fieldIsFile         = "is_file"
	fieldSize           = "size"
)

var storedFields = []string{fieldName, fieldNameNormalized, fieldParent, fieldPath, fieldIsFile, fieldSize}

// BleveEngine stores generations as bleve (scorch) indexes.
type BleveEngine struct {
	opts Options
}

var _ Engine = (*BleveEngine)(nil)

// Name implements Engine.
func (e *BleveEngine) Name() string { return BackendBleve }

// OpenWriter implements Engine.
func (e *BleveEngine) OpenWriter(_ context.Context, location string) (Writer, error) {
	if err := os.MkdirAll(location, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", location, err)
	}
	path := filepath.Join(location, bleveDir)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("index already exists at %s", path)
	}

	idx, err := bleve.New(path, recordMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &bleveWriter{
		opts:     e.opts,
		location: location,
		index:    idx,
		batch:    idx.NewBatch(),
	}, nil
}

// OpenReader implements Engine.
func (e *BleveEngine) OpenReader(location string) (Reader, error) {
	path := filepath.Join(location, bleveDir)
	if err := validateIndexIntegrity(path); err != nil {
		return nil, err
	}
	// Read-only opens take a shared lock, so several processes can search
	// one generation.
	idx, err := bleve.OpenUsing(path, map[string]interface{}{"read_only": true})
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return &bleveReader{index: idx}, nil
}

// recordMapping indexes the normalized name as a single keyword term so
// wildcard queries match against the whole name.
func recordMapping() *mapping.IndexMappingImpl {
	keyword := func() *mapping.FieldMapping {
		fm := bleve.NewKeywordFieldMapping()
		fm.Store = true
		fm.IncludeInAll = false
		return fm
	}

	name := bleve.NewTextFieldMapping()
	name.Store = true

	isFile := bleve.NewBooleanFieldMapping()
	isFile.Store = true
	isFile.IncludeInAll = false

	size := bleve.NewNumericFieldMapping()
	size.Store = true
	size.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldName, name)
	doc.AddFieldMappingsAt(fieldNameNormalized, keyword())
	doc.AddFieldMappingsAt(fieldParent, keyword())
	doc.AddFieldMappingsAt(fieldPath, keyword())
	doc.AddFieldMappingsAt(fieldIsFile, isFile)
	doc.AddFieldMappingsAt(fieldSize, size)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// validateIndexIntegrity checks index_meta.json before opening, so a
// half-copied directory fails fast instead of inside bleve.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("index not found at %s", path)
	}
	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable (corrupted index): %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted index)")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

type bleveWriter struct {
	opts     Options
	location string

	index bleve.Index
	batch *bleve.Batch
	added int
}

func (w *bleveWriter) Add(rec Record) error {
	if w.index == nil {
		return ErrClosed
	}
	doc := map[string]any{
		fieldName:           rec.NameOriginal,
		fieldNameNormalized: rec.NameNormalized,
		fieldParent:         rec.ParentPath,
		fieldPath:           rec.AbsolutePath,
		fieldIsFile:         rec.IsFile,
		fieldSize:           float64(rec.SizeBytes),
	}
	if err := w.batch.Index(rec.AbsolutePath, doc); err != nil {
		return fmt.Errorf("failed to index %s: %w", rec.AbsolutePath, err)
	}
	w.added++
	if w.batch.Size() >= w.opts.BatchSize {
		return w.flush()
	}
	return nil
}

func (w *bleveWriter) Added() int { return w.added }

func (w *bleveWriter) flush() error {
	if w.batch.Size() == 0 {
		return nil
	}
	if err := w.index.Batch(w.batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	w.batch.Reset()
	return nil
}

func (w *bleveWriter) Commit(ctx context.Context, m Marker) (Marker, error) {
	if w.index == nil {
		return m, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return m, err
	}
	if err := w.flush(); err != nil {
		return m, err
	}
	count, err := w.index.DocCount()
	if err != nil {
		return m, fmt.Errorf("failed to count documents: %w", err)
	}
	if err := w.index.Close(); err != nil {
		return m, fmt.Errorf("failed to close index: %w", err)
	}
	w.index = nil

	m.Backend = BackendBleve
	m.RecordCount = count
	if err := WriteMarker(w.location, m); err != nil {
		return m, err
	}
	return m, nil
}

func (w *bleveWriter) Close() error {
	if w.index == nil {
		return nil
	}
	err := w.index.Close()
	w.index = nil
	return err
}

type bleveReader struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

func (r *bleveReader) Query(ctx context.Context, q Query) ([]Match, error) {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return nil, ErrEmptyQuery
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	nameQuery := bleve.NewWildcardQuery(wildcardPattern(text))
	nameQuery.SetField(fieldNameNormalized)

	var bq query.Query = nameQuery
	if q.FilesOnly {
		files := bleve.NewBoolFieldQuery(true)
		files.SetField(fieldIsFile)
		bq = bleve.NewConjunctionQuery(nameQuery, files)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	req := bleve.NewSearchRequestOptions(bq, limit, 0, false)
	req.Fields = storedFields
	req.SortBy([]string{"-_score", fieldPath})

	result, err := r.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	matches := make([]Match, 0, len(result.Hits))
	for _, hit := range result.Hits {
		matches = append(matches, Match{Record: recordFromHit(hit), Score: hit.Score})
	}
	return matches, nil
}

func (r *bleveReader) DocCount() (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, ErrClosed
	}
	return r.index.DocCount()
}

func (r *bleveReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.index.Close()
}

// wildcardPattern turns plain text into a substring pattern. Text that
// already carries '*' or '?' is used as given.
func wildcardPattern(text string) string {
	if strings.ContainsAny(text, "*?") {
		return text
	}
	return "*" + text + "*"
}

func recordFromHit(hit *search.DocumentMatch) Record {
	rec := Record{AbsolutePath: hit.ID}
	if v, ok := hit.Fields[fieldName].(string); ok {
		rec.NameOriginal = v
	}
	if v, ok := hit.Fields[fieldNameNormalized].(string); ok {
		rec.NameNormalized = v
	}
	if v, ok := hit.Fields[fieldParent].(string); ok {
		rec.ParentPath = v
	}
	if v, ok := hit.Fields[fieldIsFile].(bool); ok {
		rec.IsFile = v
	}
	if v, ok := hit.Fields[fieldSize].(float64); ok && v > 0 {
		rec.SizeBytes = uint64(v)
	}
	return rec
}
