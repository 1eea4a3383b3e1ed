package regime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists the classifier's bounded history across restarts.
// Implementations must tolerate an empty backing location on first run.
type Store interface {
	Save(ctx context.Context, history []Classification) error
	Load(ctx context.Context) ([]Classification, error)
}

// FileStore is the default Store: a single JSON snapshot written with a
// temp-file-plus-rename so a crash mid-write never corrupts the history.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store, creating parent directories
// as needed
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Save writes the full history snapshot atomically
func (fs *FileStore) Save(_ context.Context, history []Classification) error {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal regime history: %w", err)
	}
	return writeFileAtomic(fs.path, data, 0o600)
}

// Load reads the snapshot; a missing file is an empty history, not an error
func (fs *FileStore) Load(_ context.Context) ([]Classification, error) {
	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read regime snapshot: %w", err)
	}

	var history []Classification
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to parse regime snapshot: %w", err)
	}
	return history, nil
}

// writeFileAtomic writes data via tmp file + fsync + rename so readers
// never observe a partial snapshot
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".regime-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
