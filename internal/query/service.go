// Package query serves name searches against the active index generation.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	amanerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/lifecycle"
	"github.com/Aman-CERP/amanfind/internal/store"
)

// Defaults for Config.
const (
	DefaultMaxResults = 100
	DefaultCacheSize  = 256
)

// Source hands out leases on the active generation.
type Source interface {
	Acquire() (*lifecycle.Lease, error)
}

// Config configures a Service.
type Config struct {
	Source     Source
	MaxResults int
	// CacheSize is the number of result sets kept. Negative disables caching.
	CacheSize int
	Logger    *slog.Logger
}

// Options narrow one search.
type Options struct {
	// Limit caps the result count. Zero or above MaxResults means MaxResults.
	Limit     int
	FilesOnly bool
}

// Result is the answer to one search.
type Result struct {
	Query        string        `json:"query"`
	GenerationID string        `json:"generation_id"`
	Matches      []store.Match `json:"matches"`
	Cached       bool          `json:"cached"`
	Duration     time.Duration `json:"duration_ns"`
}

// Service runs searches. Results are cached per generation, so a swap
// invalidates them without explicit purging.
type Service struct {
	source     Source
	maxResults int
	cache      *lru.Cache[string, []store.Match]
	logger     *slog.Logger
}

// NewService validates cfg and returns a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{source: cfg.Source, maxResults: maxResults, logger: logger}
	if cfg.CacheSize >= 0 {
		size := cfg.CacheSize
		if size == 0 {
			size = DefaultCacheSize
		}
		cache, err := lru.New[string, []store.Match](size)
		if err != nil {
			return nil, fmt.Errorf("failed to create result cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Search matches text against normalized names. It fails with
// ERR_404_QUERY_EMPTY for blank text and ERR_509_STILL_INDEXING before the
// first build is adopted.
func (s *Service) Search(ctx context.Context, text string, opts Options) (*Result, error) {
	start := time.Now()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, amanerrors.New(amanerrors.ErrCodeQueryEmpty, "search query is empty", nil).
			WithSuggestion("Provide part of a file or directory name, e.g. 'report' or '*.pdf'")
	}
	limit := opts.Limit
	if limit <= 0 || limit > s.maxResults {
		limit = s.maxResults
	}

	lease, err := s.source.Acquire()
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	gen := lease.Info().GenerationID

	key := cacheKey(gen, text, limit, opts.FilesOnly)
	if s.cache != nil {
		if matches, ok := s.cache.Get(key); ok {
			return &Result{Query: text, GenerationID: gen, Matches: matches, Cached: true, Duration: time.Since(start)}, nil
		}
	}

	matches, err := lease.Reader().Query(ctx, store.Query{Text: text, Limit: limit, FilesOnly: opts.FilesOnly})
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "search failed", err)
	}
	if s.cache != nil {
		s.cache.Add(key, matches)
	}

	elapsed := time.Since(start)
	s.logger.Debug("search_complete",
		slog.String("query", text),
		slog.String("generation", gen),
		slog.Int("results", len(matches)),
		slog.Duration("duration", elapsed))
	return &Result{Query: text, GenerationID: gen, Matches: matches, Duration: elapsed}, nil
}

// CacheLen returns the number of cached result sets.
func (s *Service) CacheLen() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Len()
}

func cacheKey(generation, text string, limit int, filesOnly bool) string {
	return fmt.Sprintf("%s\x00%s\x00%d\x00%t", generation, strings.ToLower(text), limit, filesOnly)
}
