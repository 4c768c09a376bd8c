package store

import (
	"fmt"
	"log/slog"
	"strings"
)

// Backend names.
const (
	BackendBleve  = "bleve"
	BackendSQLite = "sqlite"
)

// Options are shared by all engines.
type Options struct {
	// BatchSize is how many records a writer buffers before flushing.
	BatchSize int
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// NewEngine returns the engine for backend. An empty backend selects bleve.
func NewEngine(backend string, opts Options) (Engine, error) {
	opts = opts.withDefaults()
	switch strings.ToLower(backend) {
	case BackendBleve, "":
		return &BleveEngine{opts: opts}, nil
	case BackendSQLite:
		return &SQLiteEngine{opts: opts}, nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s (valid options: bleve, sqlite)", backend)
	}
}

// EngineFor returns the engine that committed location, falling back to
// backend when the location has no marker yet.
func EngineFor(location, backend string, opts Options) (Engine, error) {
	if m, err := ReadMarker(location); err == nil {
		return NewEngine(m.Backend, opts)
	}
	return NewEngine(backend, opts)
}
