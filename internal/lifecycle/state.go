package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/amanfind/internal/fsutil"
)

// StateFile holds the persisted lifecycle state inside the index directory.
const StateFile = "state.json"

const stateVersion = 1

// State is the in-memory rebuild state.
type State int32

const (
	StateIdle State = iota
	StateBuilding
	StateSwapping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateSwapping:
		return "swapping"
	default:
		return "unknown"
	}
}

// persistedState is what survives a restart.
type persistedState struct {
	Version            int       `json:"version"`
	FirstBuildComplete bool      `json:"first_build_complete"`
	ActiveLocation     string    `json:"active_location,omitempty"`
	GenerationID       string    `json:"generation_id,omitempty"`
	Backend            string    `json:"backend,omitempty"`
	BuiltAt            time.Time `json:"built_at,omitempty"`
	RecordCount        uint64    `json:"record_count"`
}

// loadState reads path. A missing file yields the zero state and no error;
// an unreadable one yields the zero state and the error.
func loadState(path string) (persistedState, error) {
	var st persistedState
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return persistedState{}, nil
	}
	if err != nil {
		return persistedState{}, fmt.Errorf("failed to read state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return persistedState{}, fmt.Errorf("state is corrupt: %w", err)
	}
	if st.FirstBuildComplete && st.ActiveLocation == "" {
		return persistedState{}, fmt.Errorf("state names no active location")
	}
	return st, nil
}

func saveState(path string, st persistedState) error {
	st.Version = stateVersion
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// ActiveInfo describes the generation queries are served from.
type ActiveInfo struct {
	Location           string    `json:"location,omitempty"`
	GenerationID       string    `json:"generation_id,omitempty"`
	Backend            string    `json:"backend,omitempty"`
	BuiltAt            time.Time `json:"built_at,omitempty"`
	RecordCount        uint64    `json:"record_count"`
	FirstBuildComplete bool      `json:"first_build_complete"`
}

func (a ActiveInfo) persisted() persistedState {
	return persistedState{
		FirstBuildComplete: a.FirstBuildComplete,
		ActiveLocation:     a.Location,
		GenerationID:       a.GenerationID,
		Backend:            a.Backend,
		BuiltAt:            a.BuiltAt,
		RecordCount:        a.RecordCount,
	}
}

func activeFromState(st persistedState) ActiveInfo {
	return ActiveInfo{
		Location:           st.ActiveLocation,
		GenerationID:       st.GenerationID,
		Backend:            st.Backend,
		BuiltAt:            st.BuiltAt,
		RecordCount:        st.RecordCount,
		FirstBuildComplete: st.FirstBuildComplete,
	}
}

// ReadActive reads the persisted active generation under indexDir without
// opening a Manager. A missing state file yields the zero ActiveInfo.
func ReadActive(indexDir string) (ActiveInfo, error) {
	st, err := loadState(filepath.Join(indexDir, StateFile))
	if err != nil {
		return ActiveInfo{}, err
	}
	return activeFromState(st), nil
}
