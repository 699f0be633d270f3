// Package storage keeps downloaded bodies in a content-addressed store.
package storage

import (
	"io"
)

// Storage stores and retrieves blobs by content id.
type Storage interface {
	// Put stores a blob and returns its identifier, the hex SHA-256 of the content.
	Put(data io.Reader) (string, error)
	Get(id string) (io.ReadCloser, error)
	// GetPath returns the file path for a given blob identifier.
	GetPath(id string) (string, error)
	Has(id string) bool
}
