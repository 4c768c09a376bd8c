// Package store is the text-indexing engine boundary for amanfind. A
// generation lives in its own directory; engines write records into it,
// commit it, and later open it read-only for queries.
package store

import (
	"context"
	"errors"
)

// Record is one indexed file or directory.
type Record struct {
	NameOriginal   string
	NameNormalized string
	ParentPath     string
	// AbsolutePath is unique within a generation and doubles as document ID.
	AbsolutePath string
	IsFile       bool
	// SizeBytes is the file size or the aggregated size of a directory's
	// descendants. Zero means unknown.
	SizeBytes uint64
}

// Match is a query hit with the stored record fields.
type Match struct {
	Record
	Score float64
}

// Query describes a name lookup.
type Query struct {
	// Text is matched case-insensitively against NameNormalized. Without
	// '*' or '?' it is treated as a substring.
	Text  string
	Limit int
	// FilesOnly drops directory records.
	FilesOnly bool
}

// Engine opens writers and readers for generation directories.
type Engine interface {
	// Name is the backend identifier recorded in the commit marker.
	Name() string
	// OpenWriter creates a new, empty index inside location.
	OpenWriter(ctx context.Context, location string) (Writer, error)
	// OpenReader opens a committed index inside location.
	OpenReader(location string) (Reader, error)
}

// Writer receives records for one generation. Writers are not safe for
// concurrent use.
type Writer interface {
	Add(rec Record) error
	// Added returns how many records were passed to Add.
	Added() int
	// Commit flushes pending records, closes the index and writes the commit
	// marker. The location is committed only if Commit returns nil.
	Commit(ctx context.Context, m Marker) (Marker, error)
	// Close releases the writer. After a successful Commit it is a no-op.
	Close() error
}

// Reader answers queries against a committed generation. Readers are safe
// for concurrent use.
type Reader interface {
	Query(ctx context.Context, q Query) ([]Match, error)
	DocCount() (uint64, error)
	Close() error
}

// Errors returned by engines.
var (
	ErrClosed       = errors.New("index is closed")
	ErrNotCommitted = errors.New("generation is not committed")
	ErrEmptyQuery   = errors.New("query is empty")
)

// DefaultBatchSize is used when an engine is built with a non-positive
// batch size.
const DefaultBatchSize = 1000
