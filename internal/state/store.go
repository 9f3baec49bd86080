package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/taskmaster/internal/errors"
)

// StateDirName is the per-workspace directory holding run state and logs.
const StateDirName = ".taskmaster"

// StateFileName is the name of the persisted state file.
const StateFileName = "state.json"

// Store persists RunState to a JSON file with atomic writes. The write is
// temp-file-then-rename so a crash mid-write never corrupts the previously
// committed state, and external readers (a status command in another
// process) never observe a half-written file.
type Store struct {
	path string
}

// NewStore creates a Store rooted at the default per-workspace location
// under workDir.
func NewStore(workDir string) *Store {
	return &Store{path: filepath.Join(workDir, StateDirName, StateFileName)}
}

// NewStoreAt creates a Store writing to an explicit file path.
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file path.
func (st *Store) Path() string {
	return st.path
}

// Dir returns the directory containing the state file.
func (st *Store) Dir() string {
	return filepath.Dir(st.path)
}

// Save persists the state, refreshing its updated-at timestamp first.
// I/O errors propagate: the caller must not assume the state was persisted.
func (st *Store) Save(s *RunState) error {
	s.touch()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	// Temp file in the same directory so the rename stays atomic.
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}

	if err := os.Rename(tmpPath, st.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}

// Load reads the persisted state. It returns (nil, nil) when no state file
// exists. A file that exists but cannot be parsed fails with
// errors.ErrStateCorrupted — damaged state is never silently discarded.
func (st *Store) Load() (*RunState, error) {
	data, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var s RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrStateCorrupted, st.path, err)
	}

	s.normalize()
	return &s, nil
}

// Clear removes the state file. It is idempotent: clearing absent state
// is a no-op.
func (st *Store) Clear() error {
	if err := os.Remove(st.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}
