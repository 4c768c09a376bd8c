package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo is what `amanfind status` reports.
type StatusInfo struct {
	IndexDir           string `json:"index_dir"`
	Backend            string `json:"backend"`
	State              string `json:"state"`
	FirstBuildComplete bool   `json:"first_build_complete"`

	GenerationID string    `json:"generation_id,omitempty"`
	Location     string    `json:"location,omitempty"`
	BuiltAt      time.Time `json:"built_at,omitempty"`
	RecordCount  uint64    `json:"record_count"`
	IndexSize    int64     `json:"index_size_bytes"`

	Builds []BuildSummary `json:"builds,omitempty"`
}

// BuildSummary is one history row.
type BuildSummary struct {
	GenerationID string        `json:"generation_id"`
	Outcome      string        `json:"outcome"`
	RecordCount  uint64        `json:"record_count"`
	Skipped      int           `json:"skipped"`
	Error        string        `json:"error,omitempty"`
	FinishedAt   time.Time     `json:"finished_at"`
	Duration     time.Duration `json:"duration_ns"`
}

// StatusRenderer prints StatusInfo.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render prints a human-readable report.
func (r *StatusRenderer) Render(info StatusInfo) error {
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(r.out, format, args...) }

	p("%s\n\n", r.styles.Header.Render("amanfind index"))
	p("  Directory:   %s\n", info.IndexDir)
	p("  Backend:     %s\n", info.Backend)
	p("  State:       %s\n", r.renderState(info.State))

	if !info.FirstBuildComplete {
		p("  Generation:  %s\n", r.styles.Warning.Render("none yet (first build pending)"))
	} else {
		p("  Generation:  %s\n", info.GenerationID)
		p("  Records:     %d\n", info.RecordCount)
		if !info.BuiltAt.IsZero() {
			p("  Built:       %s\n", formatTime(info.BuiltAt))
		}
		p("  Size:        %s\n", FormatBytes(info.IndexSize))
	}

	if len(info.Builds) > 0 {
		p("\n  Recent builds:\n")
		for _, b := range info.Builds {
			id := b.GenerationID
			if len(id) > 8 {
				id = id[:8]
			}
			line := fmt.Sprintf("    %-8s  %-11s  %8d records  %5d skipped  %s",
				id, r.renderOutcome(b.Outcome), b.RecordCount, b.Skipped, formatTime(b.FinishedAt))
			p("%s\n", line)
			if b.Error != "" {
				p("              %s\n", r.styles.Dim.Render(b.Error))
			}
		}
	}
	return nil
}

// RenderJSON prints info as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) renderState(state string) string {
	switch state {
	case "idle":
		return r.styles.Success.Render(state)
	case "building", "swapping":
		return r.styles.Active.Render(state)
	default:
		return state
	}
}

func (r *StatusRenderer) renderOutcome(outcome string) string {
	switch outcome {
	case "committed":
		return r.styles.Success.Render(outcome)
	case "failed", "swap_failed":
		return r.styles.Error.Render(outcome)
	default:
		return outcome
	}
}

// formatTime renders t relative to now, falling back to a date after a week.
func formatTime(t time.Time) string {
	diff := time.Since(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Local().Format("2006-01-02 15:04")
	}
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
