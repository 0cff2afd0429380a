package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileKV stores the snapshot in a single local file. Writes go to a temp file
// in the same directory followed by a rename, so a crashed write can never
// leave a half-written snapshot behind.
type FileKV struct {
	path string
}

// NewFileKV creates the parent directory if needed and returns the store.
func NewFileKV(path string) (*FileKV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileKV{path: path}, nil
}

func (f *FileKV) Load(_ context.Context) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, true, nil
}

func (f *FileKV) Store(_ context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
