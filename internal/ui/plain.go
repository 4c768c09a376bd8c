package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per update, for CI logs and pipes.
type PlainRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	stage    Stage
	lastRoot string
	errors   int
	warnings int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, stage: -1}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// UpdateProgress implements Renderer. Lines are written on stage or root
// changes and whenever a message is attached.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := event.Stage != r.stage || event.CurrentRoot != r.lastRoot
	r.stage = event.Stage
	r.lastRoot = event.CurrentRoot
	if !changed && event.Message == "" {
		return
	}

	msg := event.Message
	if msg == "" {
		msg = event.CurrentRoot
	}
	_, _ = fmt.Fprintf(r.out, "[%s] %d records, %d skipped", event.Stage.Icon(), event.Records, event.Skipped)
	if msg != "" {
		_, _ = fmt.Fprintf(r.out, " - %s", msg)
	}
	_, _ = fmt.Fprintln(r.out)
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
		r.warnings++
	} else {
		r.errors++
	}
	if event.Path != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Path, event.Err)
		return
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d records indexed in %s", stats.Records, stats.Duration.Round(100*time.Millisecond))
	if stats.Skipped > 0 || stats.FailedRoots > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d skipped, %d roots failed)", stats.Skipped, stats.FailedRoots)
	}
	_, _ = fmt.Fprintln(r.out)
	if stats.GenerationID != "" {
		_, _ = fmt.Fprintf(r.out, "Generation: %s\n", stats.GenerationID)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

var _ Renderer = (*PlainRenderer)(nil)
