package filestore

import (
	"io"
)

// BlobStore stores attachment payloads addressed by content hash.
type BlobStore interface {
	// Put saves the payload and returns its content id. Idempotent:
	// storing the same bytes twice returns the same id.
	Put(data []byte) (string, error)

	// Get retrieves the payload for the given content id.
	Get(id string) (io.ReadCloser, error)
}
