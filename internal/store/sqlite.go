package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// sqliteFile is the database file inside a generation.
const sqliteFile = "records.db"

// SQLiteEngine stores generations as a single SQLite table.
type SQLiteEngine struct {
	opts Options
}

var _ Engine = (*SQLiteEngine)(nil)

// Name implements Engine.
func (e *SQLiteEngine) Name() string { return BackendSQLite }

// OpenWriter implements Engine.
func (e *SQLiteEngine) OpenWriter(ctx context.Context, location string) (Writer, error) {
	if err := os.MkdirAll(location, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", location, err)
	}
	path := filepath.Join(location, sqliteFile)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("index already exists at %s", path)
	}

	db, err := openSQLite(path, []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	})
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS records (
		path            TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		name_normalized TEXT NOT NULL,
		parent          TEXT NOT NULL,
		is_file         INTEGER NOT NULL,
		size            INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_name ON records(name_normalized);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &sqliteWriter{
		opts:     e.opts,
		location: location,
		db:       db,
		pending:  make([]Record, 0, e.opts.BatchSize),
	}, nil
}

// OpenReader implements Engine.
func (e *SQLiteEngine) OpenReader(location string) (Reader, error) {
	path := filepath.Join(location, sqliteFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("index not found at %s: %w", path, err)
	}
	db, err := openSQLite(path, []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA query_only = ON",
		"PRAGMA cache_size = -16384",
	})
	if err != nil {
		return nil, err
	}

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		_ = db.Close()
		return nil, fmt.Errorf("database corrupted: %s", result)
	}
	return &sqliteReader{db: db}, nil
}

func openSQLite(path string, pragmas []string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pragmas are per connection, so keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	return db, nil
}

type sqliteWriter struct {
	opts     Options
	location string

	db      *sql.DB
	pending []Record
	added   int
}

func (w *sqliteWriter) Add(rec Record) error {
	if w.db == nil {
		return ErrClosed
	}
	w.pending = append(w.pending, rec)
	w.added++
	if len(w.pending) >= w.opts.BatchSize {
		return w.flush(context.Background())
	}
	return nil
}

func (w *sqliteWriter) Added() int { return w.added }

func (w *sqliteWriter) flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO records
		(path, name, name_normalized, parent, is_file, size) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range w.pending {
		isFile := 0
		if rec.IsFile {
			isFile = 1
		}
		if _, err := stmt.ExecContext(ctx, rec.AbsolutePath, rec.NameOriginal, rec.NameNormalized,
			rec.ParentPath, isFile, int64(rec.SizeBytes)); err != nil {
			return fmt.Errorf("failed to index %s: %w", rec.AbsolutePath, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	w.pending = w.pending[:0]
	return nil
}

func (w *sqliteWriter) Commit(ctx context.Context, m Marker) (Marker, error) {
	if w.db == nil {
		return m, ErrClosed
	}
	if err := w.flush(ctx); err != nil {
		return m, err
	}

	var count int64
	if err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return m, fmt.Errorf("failed to count documents: %w", err)
	}
	// Fold the WAL back so the generation is one self-contained file.
	for _, pragma := range []string{"PRAGMA wal_checkpoint(TRUNCATE)", "PRAGMA journal_mode = DELETE"} {
		if _, err := w.db.ExecContext(ctx, pragma); err != nil {
			return m, fmt.Errorf("failed to finalize database: %w", err)
		}
	}
	if err := w.db.Close(); err != nil {
		return m, fmt.Errorf("failed to close database: %w", err)
	}
	w.db = nil

	m.Backend = BackendSQLite
	m.RecordCount = uint64(count)
	if err := WriteMarker(w.location, m); err != nil {
		return m, err
	}
	return m, nil
}

func (w *sqliteWriter) Close() error {
	if w.db == nil {
		return nil
	}
	err := w.db.Close()
	w.db = nil
	return err
}

type sqliteReader struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

func (r *sqliteReader) Query(ctx context.Context, q Query) ([]Match, error) {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return nil, ErrEmptyQuery
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	stmt := `SELECT path, name, name_normalized, parent, is_file, size
		FROM records WHERE name_normalized LIKE ? ESCAPE '\'`
	if q.FilesOnly {
		stmt += ` AND is_file = 1`
	}
	stmt += ` ORDER BY length(name_normalized), path LIMIT ?`

	rows, err := r.db.QueryContext(ctx, stmt, likePattern(text), limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			rec    Record
			isFile int
			size   int64
		)
		if err := rows.Scan(&rec.AbsolutePath, &rec.NameOriginal, &rec.NameNormalized,
			&rec.ParentPath, &isFile, &size); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		rec.IsFile = isFile == 1
		if size > 0 {
			rec.SizeBytes = uint64(size)
		}
		matches = append(matches, Match{Record: rec, Score: likeScore(text, rec.NameNormalized)})
	}
	return matches, rows.Err()
}

func (r *sqliteReader) DocCount() (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, ErrClosed
	}
	var count int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, err
	}
	return uint64(count), nil
}

func (r *sqliteReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}

// likePattern converts a wildcard query to a LIKE pattern with the same
// semantics as the bleve backend.
func likePattern(text string) string {
	var b strings.Builder
	wild := strings.ContainsAny(text, "*?")
	if !wild {
		b.WriteByte('%')
	}
	for _, r := range text {
		switch r {
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	if !wild {
		b.WriteByte('%')
	}
	return b.String()
}

// likeScore favours names where the query covers more of the name.
func likeScore(text, name string) float64 {
	if name == "" {
		return 0
	}
	n := len(strings.NewReplacer("*", "", "?", "").Replace(text))
	return float64(n) / float64(len(name))
}
