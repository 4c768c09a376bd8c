// Package preflight checks that a machine can host an index: the index
// directory is writable and has room, the process may open enough
// directories at once, and the crawl roots are readable.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/amanfind/internal/fsutil"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "????"
	}
}

// MarshalText renders the status name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult is one check's outcome.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports a failed required check.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Target is what the checks inspect.
type Target struct {
	IndexDir string
	// ActiveLocation is the generation currently served, if any. Its size
	// raises the free space a swap needs.
	ActiveLocation string
	Roots          []string
}

// Checker runs checks.
type Checker struct {
	minFreeBytes uint64
	minOpenFiles uint64
	freeBytes    func(path string) (uint64, error)
}

// Option configures a Checker.
type Option func(*Checker)

// WithMinFreeBytes sets the free-space threshold for the index volume.
func WithMinFreeBytes(n uint64) Option {
	return func(c *Checker) { c.minFreeBytes = n }
}

// WithMinOpenFiles sets the file descriptor threshold.
func WithMinOpenFiles(n uint64) Option {
	return func(c *Checker) { c.minOpenFiles = n }
}

// Defaults.
const (
	MinFreeBytes = 512 * 1024 * 1024
	MinOpenFiles = 1024
)

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{minFreeBytes: MinFreeBytes, minOpenFiles: MinOpenFiles, freeBytes: freeBytes}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against t.
func (c *Checker) RunAll(ctx context.Context, t Target) []CheckResult {
	results := []CheckResult{
		c.CheckIndexDir(t.IndexDir),
		c.CheckDiskSpace(t.IndexDir, t.ActiveLocation),
		c.CheckFileDescriptors(),
	}
	for _, root := range t.Roots {
		if ctx.Err() != nil {
			break
		}
		results = append(results, c.CheckRoot(root))
	}
	return results
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// Summary is "failed", "ready_with_warnings" or "ready".
func Summary(results []CheckResult) string {
	warned := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			warned = true
		}
	}
	if warned {
		return "ready_with_warnings"
	}
	return "ready"
}

// Print writes results as a plain report.
func Print(w io.Writer, results []CheckResult, verbose bool) {
	_, _ = fmt.Fprintln(w, "amanfind system check")
	_, _ = fmt.Fprintln(w)
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if r.Details != "" && (verbose || r.Status != StatusPass) {
			_, _ = fmt.Fprintf(w, "       %s\n", r.Details)
		}
	}
	_, _ = fmt.Fprintf(w, "\nStatus: %s\n", strings.ToUpper(Summary(results)))
}

// CheckIndexDir verifies the index directory can be created and written.
func (c *Checker) CheckIndexDir(dir string) CheckResult {
	r := CheckResult{Name: "index_dir", Required: true}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.Status = StatusFail
		r.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return r
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		r.Status = StatusFail
		r.Message = fmt.Sprintf("not writable: %v", err)
		return r
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	r.Status = StatusPass
	r.Message = dir
	return r
}

// CheckDiskSpace verifies the volume holding dir has room for a swap:
// the new build plus the staged copy of it, each about the size of the
// active generation.
func (c *Checker) CheckDiskSpace(dir, activeLocation string) CheckResult {
	r := CheckResult{Name: "disk_space", Required: true}
	need := c.requiredFreeBytes(activeLocation)
	free, err := c.freeBytes(dir)
	switch {
	case errors.Is(err, errUnsupported):
		r.Status = StatusWarn
		r.Message = "free space cannot be measured on this platform"
	case err != nil:
		r.Status = StatusFail
		r.Message = fmt.Sprintf("failed to check disk space: %v", err)
	case free < need:
		r.Status = StatusFail
		r.Message = fmt.Sprintf("%s free (need %s)", formatBytes(free), formatBytes(need))
		r.Details = "Swaps keep the active generation, a staged copy and the new build on disk at once"
	default:
		r.Status = StatusPass
		r.Message = fmt.Sprintf("%s free (need %s)", formatBytes(free), formatBytes(need))
	}
	return r
}

// requiredFreeBytes is the larger of the configured minimum and twice the
// active generation's size. An unreadable generation falls back to the minimum.
func (c *Checker) requiredFreeBytes(activeLocation string) uint64 {
	if activeLocation == "" {
		return c.minFreeBytes
	}
	size, err := fsutil.TreeSize(activeLocation)
	if err != nil || size <= 0 {
		return c.minFreeBytes
	}
	return max(c.minFreeBytes, 2*uint64(size))
}

// CheckFileDescriptors verifies the open file limit. Concurrent root
// walkers each hold directory handles open.
func (c *Checker) CheckFileDescriptors() CheckResult {
	r := CheckResult{Name: "file_descriptors"}
	limit, err := openFileLimit()
	switch {
	case errors.Is(err, errUnsupported):
		r.Status = StatusPass
		r.Message = "no limit on this platform"
	case err != nil:
		r.Status = StatusWarn
		r.Message = fmt.Sprintf("failed to read limit: %v", err)
	case limit < c.minOpenFiles:
		r.Status = StatusWarn
		r.Message = fmt.Sprintf("%d (recommended %d)", limit, c.minOpenFiles)
		r.Details = fmt.Sprintf("Run 'ulimit -n %d' or lower crawl.workers", c.minOpenFiles*4)
	default:
		r.Status = StatusPass
		r.Message = fmt.Sprintf("%d", limit)
	}
	return r
}

// CheckRoot verifies a crawl root can be listed. Unreadable roots are
// skipped by builds, so this only warns.
func (c *Checker) CheckRoot(root string) CheckResult {
	r := CheckResult{Name: "root " + filepath.Clean(root)}
	d, err := os.Open(root)
	if err != nil {
		r.Status = StatusWarn
		r.Message = fmt.Sprintf("unreadable: %v", err)
		return r
	}
	defer func() { _ = d.Close() }()
	if _, err := d.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		r.Status = StatusWarn
		r.Message = fmt.Sprintf("cannot list: %v", err)
		return r
	}
	r.Status = StatusPass
	r.Message = "readable"
	return r
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
