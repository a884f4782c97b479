package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore writes each payload to its own file in a sample directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the sample directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create sample dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Put writes data to a temporary file and renames it into place, so readers
// never observe a partially written sample. The locator is the file path.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, key)
	tmp := filepath.Join(s.dir, "."+key+"."+uuid.NewString()+".tmp")

	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return "", fmt.Errorf("failed to write sample file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to move sample file into place: %w", err)
	}
	return path, nil
}

// Get reads the payload stored under key.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sample file: %w", err)
	}
	return data, nil
}

var _ Store = (*FileStore)(nil)
