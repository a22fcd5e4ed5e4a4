// Package storage provides the key-addressed blob store holding binary
// archives, recipe files and generated crate archives. Keys are opaque
// strings derived from (package, version, package_id); nothing outside the
// key helpers assumes any structure in them.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = errors.New("blob not found")

// BlobStore is the interface the catalog's owners use to persist file
// content. Implementations must support concurrent callers; keys are
// independent objects with no cross-key coordination.
type BlobStore interface {
	// Put stores the content read from r under key, replacing any
	// existing blob, and returns the number of bytes written.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)

	// Get returns a reader for the blob stored under key.
	// Returns ErrNotFound if no such blob exists.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether a blob is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the blob stored under key. Deleting a missing
	// blob is not an error.
	Delete(ctx context.Context, key string) error
}
