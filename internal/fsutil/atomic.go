//go:build !windows

package fsutil

import (
	"os"

	"github.com/google/renameio"
)

// WriteFileAtomic writes data to a temp file next to name and renames it
// into place, so readers see either the old or the new content.
func WriteFileAtomic(name string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(name, data, perm)
}
