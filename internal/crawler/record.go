package crawler

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/amanfind/internal/store"
)

// ErrNoName is returned for paths without a final name component, such as
// "/" or "C:\".
var ErrNoName = errors.New("path has no final name component")

// NewRecord builds the index record for a filesystem entry. size is the
// file size, or the aggregated descendant size for a directory; 0 means
// unknown.
func NewRecord(path string, isFile bool, size uint64) (store.Record, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return store.Record{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	parent := filepath.Dir(abs)
	name := filepath.Base(abs)
	if parent == abs || name == "" || name == "." || strings.ContainsRune(name, filepath.Separator) {
		return store.Record{}, fmt.Errorf("%w: %s", ErrNoName, path)
	}

	return store.Record{
		NameOriginal:   name,
		NameNormalized: strings.ToLower(name),
		ParentPath:     parent,
		AbsolutePath:   abs,
		IsFile:         isFile,
		SizeBytes:      size,
	}, nil
}
