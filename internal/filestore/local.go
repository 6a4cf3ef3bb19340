package filestore

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"okolitsa/internal/models"
)

// LocalBlobStore implements BlobStore on the local filesystem, sharding
// files by the first two characters of their hash.
type LocalBlobStore struct {
	root string
}

func NewLocalBlobStore(root string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &LocalBlobStore{root: root}, nil
}

func (s *LocalBlobStore) getPath(id string) string {
	if len(id) < 2 {
		return filepath.Join(s.root, id)
	}
	return filepath.Join(s.root, id[:2], id)
}

func (s *LocalBlobStore) Put(data []byte) (string, error) {
	sum := blake2b.Sum256(data)
	id := hex.EncodeToString(sum[:])
	path := s.getPath(id)

	// Idempotency check
	if _, err := os.Stat(path); err == nil {
		return id, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Write to a temporary file first, then rename into place.
	tmp, err := os.CreateTemp(dir, "blob-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name()) // Clean up if rename fails
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to rename file: %w", err)
	}

	return id, nil
}

func (s *LocalBlobStore) Get(id string) (io.ReadCloser, error) {
	f, err := os.Open(s.getPath(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("blob %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", id, err)
	}
	return f, nil
}
