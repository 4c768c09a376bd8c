package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/amanfind/internal/store"
)

// ResultsRenderer prints search matches.
type ResultsRenderer struct {
	out    io.Writer
	styles Styles
}

// NewResultsRenderer creates a results renderer.
func NewResultsRenderer(out io.Writer, noColor bool) *ResultsRenderer {
	return &ResultsRenderer{out: out, styles: GetStyles(noColor)}
}

// Render prints one match per line: kind, size and path with the name
// highlighted.
func (r *ResultsRenderer) Render(matches []store.Match) error {
	for _, m := range matches {
		kind := r.styles.Dim.Render("dir ")
		if m.IsFile {
			kind = r.styles.Label.Render("file")
		}
		if _, err := fmt.Fprintf(r.out, "%s  %10s  %s\n", kind, FormatBytes(int64(m.SizeBytes)), r.highlight(m)); err != nil {
			return err
		}
	}
	return nil
}

func (r *ResultsRenderer) highlight(m store.Match) string {
	if m.NameOriginal == "" || !strings.HasSuffix(m.AbsolutePath, m.NameOriginal) {
		return m.AbsolutePath
	}
	return m.AbsolutePath[:len(m.AbsolutePath)-len(m.NameOriginal)] + r.styles.Active.Render(m.NameOriginal)
}

// jsonMatch is the wire shape of a match.
type jsonMatch struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	Parent string  `json:"parent"`
	IsFile bool    `json:"is_file"`
	Size   uint64  `json:"size"`
	Score  float64 `json:"score"`
}

// RenderJSON prints matches as a JSON array.
func (r *ResultsRenderer) RenderJSON(matches []store.Match) error {
	out := make([]jsonMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, jsonMatch{
			Name:   m.NameOriginal,
			Path:   m.AbsolutePath,
			Parent: m.ParentPath,
			IsFile: m.IsFile,
			Size:   m.SizeBytes,
			Score:  m.Score,
		})
	}
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
