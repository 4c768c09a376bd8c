// Package history records the outcome of every index build in a small
// SQLite database so status commands can explain what the last builds did
// and which paths they skipped.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Aman-CERP/amanfind/internal/crawler"
)

// DBFile is the history database inside the index directory.
const DBFile = "history.db"

// maxSkippedPerBuild caps stored skip entries for one build.
const maxSkippedPerBuild = 1000

// DefaultKeep is how many builds Prune retains by default.
const DefaultKeep = 50

// Outcome is how a build ended.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeFailed     Outcome = "failed"
	OutcomeSwapFailed Outcome = "swap_failed"
)

// Entry is one build.
type Entry struct {
	ID           int64     `json:"id"`
	GenerationID string    `json:"generation_id"`
	Outcome      Outcome   `json:"outcome"`
	Backend      string    `json:"backend"`
	Roots        []string  `json:"roots"`
	FailedRoots  []string  `json:"failed_roots,omitempty"`
	RecordCount  uint64    `json:"record_count"`
	SkippedCount int       `json:"skipped_count"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`

	// Skipped is written by Record and loaded only by Skipped.
	Skipped []crawler.SkipEntry `json:"-"`
}

// Duration is how long the build ran.
func (e Entry) Duration() time.Duration { return e.FinishedAt.Sub(e.StartedAt) }

// Store is the SQLite-backed build history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenDir opens the history database inside an index directory, creating
// the directory if needed.
func OpenDir(indexDir string) (*Store, error) {
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	return Open(filepath.Join(indexDir, DBFile))
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		generation_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		backend TEXT NOT NULL DEFAULT '',
		roots TEXT NOT NULL DEFAULT '[]',
		failed_roots TEXT NOT NULL DEFAULT '[]',
		record_count INTEGER NOT NULL DEFAULT 0,
		skipped_count INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS skipped_paths (
		build_id INTEGER NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
		path TEXT NOT NULL,
		reason TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_skipped_build ON skipped_paths(build_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

// Record stores e and up to maxSkippedPerBuild of its skip entries. It
// returns the new entry id.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	skippedCount := e.SkippedCount
	if skippedCount < len(e.Skipped) {
		skippedCount = len(e.Skipped)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO builds (generation_id, outcome, backend, roots, failed_roots,
			record_count, skipped_count, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.GenerationID, string(e.Outcome), e.Backend, joinList(e.Roots), joinList(e.FailedRoots),
		int64(e.RecordCount), skippedCount, e.Error, e.StartedAt.UnixNano(), e.FinishedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert build: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read build id: %w", err)
	}

	if len(e.Skipped) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO skipped_paths (build_id, path, reason) VALUES (?, ?, ?)`)
		if err != nil {
			return 0, fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		skipped := e.Skipped
		if len(skipped) > maxSkippedPerBuild {
			skipped = skipped[:maxSkippedPerBuild]
		}
		for _, sk := range skipped {
			if _, err := stmt.ExecContext(ctx, id, sk.Path, sk.Reason); err != nil {
				return 0, fmt.Errorf("insert skipped path: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return id, nil
}

// Recent returns up to limit builds, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, generation_id, outcome, backend, roots, failed_roots,
			record_count, skipped_count, error, started_at, finished_at
		FROM builds
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastCommitted returns the newest successful build. ok is false when no
// build has committed yet.
func (s *Store) LastCommitted(ctx context.Context) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, generation_id, outcome, backend, roots, failed_roots,
			record_count, skipped_count, error, started_at, finished_at
		FROM builds
		WHERE outcome = ?
		ORDER BY id DESC
		LIMIT 1
	`, string(OutcomeCommitted))
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Skipped returns the stored skip entries of build id.
func (s *Store) Skipped(ctx context.Context, id int64) ([]crawler.SkipEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, reason FROM skipped_paths WHERE build_id = ? ORDER BY rowid
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query skipped paths: %w", err)
	}
	defer rows.Close()

	var out []crawler.SkipEntry
	for rows.Next() {
		var sk crawler.SkipEntry
		if err := rows.Scan(&sk.Path, &sk.Reason); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep builds and deletes the rest.
func (s *Store) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		keep = DefaultKeep
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM builds
		WHERE id NOT IN (
			SELECT id FROM builds
			ORDER BY id DESC
			LIMIT ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("prune builds: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM skipped_paths WHERE build_id NOT IN (SELECT id FROM builds)
	`)
	if err != nil {
		return fmt.Errorf("prune skipped paths: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e           Entry
		outcome     string
		roots       string
		failedRoots string
		count       int64
		started     int64
		finished    int64
	)
	err := row.Scan(&e.ID, &e.GenerationID, &outcome, &e.Backend, &roots, &failedRoots,
		&count, &e.SkippedCount, &e.Error, &started, &finished)
	if err == sql.ErrNoRows {
		return e, err
	}
	if err != nil {
		return e, fmt.Errorf("scan row: %w", err)
	}
	e.Outcome = Outcome(outcome)
	e.Roots = splitList(roots)
	e.FailedRoots = splitList(failedRoots)
	e.RecordCount = uint64(count)
	e.StartedAt = time.Unix(0, started)
	e.FinishedAt = time.Unix(0, finished)
	return e, nil
}

func joinList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func splitList(s string) []string {
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil
	}
	return items
}
