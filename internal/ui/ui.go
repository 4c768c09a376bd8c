// Package ui renders build progress, status and search results in the
// terminal.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a step of an index build.
type Stage int

const (
	StageCrawling Stage = iota
	StageCommitting
	StageVerifying
	StageSwapping
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageCrawling:
		return "Crawling"
	case StageCommitting:
		return "Committing"
	case StageVerifying:
		return "Verifying"
	case StageSwapping:
		return "Swapping"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short tag used in plain output.
func (s Stage) Icon() string {
	switch s {
	case StageCrawling:
		return "CRAWL"
	case StageCommitting:
		return "COMMIT"
	case StageVerifying:
		return "VERIFY"
	case StageSwapping:
		return "SWAP"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// StageFromName maps a progress stage name ("crawling", "swapping", ...)
// to a Stage. Unknown names map to StageCrawling.
func StageFromName(name string) Stage {
	switch name {
	case "committing":
		return StageCommitting
	case "verifying":
		return StageVerifying
	case "swapping":
		return StageSwapping
	case "complete", "done":
		return StageComplete
	default:
		return StageCrawling
	}
}

// ProgressEvent is a progress update. Builds have no known total, so it
// carries running counts.
type ProgressEvent struct {
	Stage       Stage
	Records     int64
	Skipped     int64
	CurrentRoot string
	Message     string
}

// ErrorEvent is a failure or warning worth showing.
type ErrorEvent struct {
	Path   string
	Err    error
	IsWarn bool
}

// CompletionStats summarizes a finished build.
type CompletionStats struct {
	GenerationID string
	Location     string
	Records      uint64
	Skipped      int
	FailedRoots  int
	Duration     time.Duration
}

// Renderer displays build progress.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures a renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Title is shown in the TUI header, typically the roots being crawled.
	Title string
}

// ConfigOption modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithTitle sets the header title.
func WithTitle(title string) ConfigOption {
	return func(c *Config) { c.Title = title }
}

// NewConfig returns a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the TUI for interactive terminals and plain text for
// pipes, CI, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether we run under a CI system.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
