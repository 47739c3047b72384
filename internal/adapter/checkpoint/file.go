// Package checkpoint persists retrieval progress so an interrupted run can
// resume where it stopped.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fairyhunter13/querypanda/internal/domain"
)

// FileName is the checkpoint file kept inside a save location.
const FileName = "checkpoint.json"

// FileStore keeps the checkpoint as JSON next to the data files.
type FileStore struct{ path string }

var _ domain.CheckpointStore = (*FileStore)(nil)

// NewFileStore returns a store for the checkpoint of saveLocation.
func NewFileStore(saveLocation string) *FileStore {
	return &FileStore{path: filepath.Join(saveLocation, FileName)}
}

// Path returns the checkpoint file path.
func (s *FileStore) Path() string { return s.path }

// Load returns the stored checkpoint; ok is false when none exists.
func (s *FileStore) Load(_ domain.Context) (domain.Checkpoint, bool, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Checkpoint{}, false, nil
		}
		return domain.Checkpoint{}, false, fmt.Errorf("op=checkpoint.file.Load: %w", err)
	}
	var cp domain.Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return domain.Checkpoint{}, false, fmt.Errorf("op=checkpoint.file.Load: %w: corrupt checkpoint %s: %w", domain.ErrInternal, s.path, err)
	}
	return cp, true, nil
}

// Save replaces the stored checkpoint atomically.
func (s *FileStore) Save(_ domain.Context, cp domain.Checkpoint) error {
	b, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("op=checkpoint.file.Save: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("op=checkpoint.file.Save: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("op=checkpoint.file.Save: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("op=checkpoint.file.Save: %w", err)
	}
	return nil
}

// Clear deletes the checkpoint. Clearing a missing checkpoint is not an error.
func (s *FileStore) Clear(_ domain.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("op=checkpoint.file.Clear: %w", err)
	}
	return nil
}
