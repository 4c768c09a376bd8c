package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/amanfind/internal/fsutil"
)

// MarkerFile is written into a generation directory as the last step of a
// commit. A directory without it is building or abandoned.
const MarkerFile = "generation.json"

// Marker describes a committed generation.
type Marker struct {
	GenerationID string    `json:"generation_id"`
	Backend      string    `json:"backend"`
	RecordCount  uint64    `json:"record_count"`
	BuiltAt      time.Time `json:"built_at"`
}

// WriteMarker atomically writes m into location.
func WriteMarker(location string, m Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal marker: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(location, MarkerFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write marker: %w", err)
	}
	return nil
}

// ReadMarker reads the commit marker of location. It returns
// ErrNotCommitted when the marker is absent.
func ReadMarker(location string) (Marker, error) {
	var m Marker
	data, err := os.ReadFile(filepath.Join(location, MarkerFile))
	if os.IsNotExist(err) {
		return m, ErrNotCommitted
	}
	if err != nil {
		return m, fmt.Errorf("failed to read marker: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("marker is corrupt: %w", err)
	}
	if m.GenerationID == "" || m.Backend == "" {
		return m, fmt.Errorf("marker is incomplete")
	}
	return m, nil
}

// IsCommitted reports whether location holds a readable commit marker.
func IsCommitted(location string) bool {
	if location == "" {
		return false
	}
	_, err := ReadMarker(location)
	return err == nil
}

// Verify checks that location is committed and that its index holds the
// number of documents the marker promises.
func Verify(location string, opts Options) (Marker, error) {
	m, err := ReadMarker(location)
	if err != nil {
		return m, err
	}
	engine, err := NewEngine(m.Backend, opts)
	if err != nil {
		return m, err
	}
	r, err := engine.OpenReader(location)
	if err != nil {
		return m, fmt.Errorf("failed to open generation: %w", err)
	}
	defer r.Close()

	n, err := r.DocCount()
	if err != nil {
		return m, fmt.Errorf("failed to count documents: %w", err)
	}
	if n != m.RecordCount {
		return m, fmt.Errorf("document count mismatch: marker says %d, index has %d", m.RecordCount, n)
	}
	return m, nil
}
