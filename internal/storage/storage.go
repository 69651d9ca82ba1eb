// Package storage defines the blob abstraction behind the snapshot store.
// Backends live in the local, memory and gcs subpackages.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by GetObject when no object exists at the path.
var ErrNotFound = errors.New("object not found")

// BlobStore reads and writes whole objects by path.
type BlobStore interface {
	// PutObject replaces the object at path and returns its URI.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	// GetObject returns the object's content or ErrNotFound.
	GetObject(ctx context.Context, path string) ([]byte, error)
}
