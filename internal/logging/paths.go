package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.amanfind/logs, or a temp-dir fallback when the
// home directory cannot be resolved.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanfind", "logs")
	}
	return filepath.Join(home, ".amanfind", "logs")
}

// DefaultLogPath returns the main log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "amanfind.log")
}

// FindLogFile resolves the log file to display. An explicit path wins;
// otherwise the default location is used if it exists.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return explicit, nil
	}

	path := DefaultLogPath()
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no log file found at %s (run a command with --debug first)", path)
	}
	return path, nil
}
