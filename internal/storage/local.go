package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var ErrNotFound = errors.New("storage: blob not found")

// LocalStorage implements the Storage interface for the local filesystem.
type LocalStorage struct {
	basePath string
}

var _ Storage = (*LocalStorage)(nil)

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Put streams data into a temporary file while hashing it and renames the
// file to the SHA-256 of its content. Storing existing content is a no-op.
func (s *LocalStorage) Put(data io.Reader) (string, error) {
	tmp, err := os.CreateTemp(s.basePath, ".put-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	id := hex.EncodeToString(hash.Sum(nil))
	if s.Has(id) {
		return id, nil
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.basePath, id)); err != nil {
		return "", fmt.Errorf("failed to store blob %s: %w", id, err)
	}
	return id, nil
}

// Get retrieves a blob from the local filesystem.
func (s *LocalStorage) Get(id string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(s.basePath, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to open blob file: %w", err)
	}
	return file, nil
}

func (s *LocalStorage) GetPath(id string) (string, error) {
	return filepath.Join(s.basePath, id), nil
}

func (s *LocalStorage) Has(id string) bool {
	_, err := os.Stat(filepath.Join(s.basePath, id))
	return err == nil
}
