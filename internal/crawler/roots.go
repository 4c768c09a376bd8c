package crawler

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// RootsKind tags a Roots value.
type RootsKind int

const (
	// RootsDefault crawls every local volume.
	RootsDefault RootsKind = iota
	// RootsCustom crawls a single user-chosen directory.
	RootsCustom
	// RootsConfigured crawls the roots listed in configuration.
	RootsConfigured
)

func (k RootsKind) String() string {
	switch k {
	case RootsCustom:
		return "custom"
	case RootsConfigured:
		return "configured"
	default:
		return "default"
	}
}

// Roots selects what a crawl starts from.
type Roots struct {
	kind  RootsKind
	paths []string
}

// DefaultRoots selects the platform volumes: every present drive letter on
// Windows, "/" elsewhere.
func DefaultRoots() Roots {
	return Roots{kind: RootsDefault}
}

// CustomRoot selects a single directory.
func CustomRoot(path string) Roots {
	return Roots{kind: RootsCustom, paths: []string{path}}
}

// ConfiguredRoots selects the given paths, or DefaultRoots when empty.
func ConfiguredRoots(paths []string) Roots {
	if len(paths) == 0 {
		return DefaultRoots()
	}
	return Roots{kind: RootsConfigured, paths: append([]string(nil), paths...)}
}

// Kind returns the variant tag.
func (r Roots) Kind() RootsKind { return r.kind }

func (r Roots) String() string {
	if r.kind == RootsDefault {
		return "default"
	}
	return fmt.Sprintf("%s(%s)", r.kind, strings.Join(r.paths, string(filepath.ListSeparator)))
}

// Resolve returns absolute, cleaned root paths with duplicates and roots
// nested inside other roots removed.
func (r Roots) Resolve() ([]string, error) {
	raw := r.paths
	if r.kind == RootsDefault {
		raw = defaultRootPaths()
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no roots to crawl")
	}

	abs := make([]string, 0, len(raw))
	for _, p := range raw {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("empty root path")
		}
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", p, err)
		}
		abs = append(abs, filepath.Clean(a))
	}

	// Shorter paths first so a parent is kept before its children.
	sort.SliceStable(abs, func(i, j int) bool { return len(abs[i]) < len(abs[j]) })
	var out []string
	for _, p := range abs {
		nested := false
		for _, kept := range out {
			if within(p, kept) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, p)
		}
	}
	return out, nil
}

// within reports whether path equals parent or lies below it.
func within(path, parent string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
