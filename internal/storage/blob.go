package storage

import (
	"context"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// BlobStoreImpl implements BlobStore using gocloud.dev/blob.
type BlobStoreImpl struct {
	bucket *blob.Bucket
}

// NewBlobStore creates a new gocloud.dev/blob-backed blob store.
func NewBlobStore(bucket *blob.Bucket) *BlobStoreImpl {
	return &BlobStoreImpl{bucket: bucket}
}

var _ BlobStore = &BlobStoreImpl{}

// Put streams the content into the bucket under key. The write is not
// visible under the key until Close succeeds, so a failed upload never
// leaves a partial blob behind.
func (s *BlobStoreImpl) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return 0, err
	}

	if err := w.Close(); err != nil {
		return 0, err
	}

	return n, nil
}

// Get returns a reader for the blob stored under key.
func (s *BlobStoreImpl) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// Exists reports whether a blob is stored under key.
func (s *BlobStoreImpl) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// Delete removes the blob stored under key.
func (s *BlobStoreImpl) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil // Already deleted
	}
	return err
}
