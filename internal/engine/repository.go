package engine

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrStateNotFound is returned when no persisted snapshot exists yet.
var ErrStateNotFound = errors.New("engine: snapshot not found")

// StateStore persists run snapshots at quiescent points.
type StateStore interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}

// Repository stores snapshots as JSON files under a run directory.
type Repository struct {
	path string
}

// NewRepository creates a repository writing to dir/state.json.
func NewRepository(dir string) *Repository {
	return &Repository{path: filepath.Join(dir, "state.json")}
}

// Load reads the persisted snapshot if present.
func (r *Repository) Load() (Snapshot, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, ErrStateNotFound
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Save writes the snapshot to disk with best-effort atomicity.
func (r *Repository) Save(snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, append(encoded, '\n'), 0o644)
}
