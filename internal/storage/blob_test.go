package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"gocloud.dev/blob/memblob"
)

func TestBlobStore_PutGet(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	store := NewBlobStore(bucket)
	ctx := context.Background()

	content := []byte("binary payload")
	key := BinaryKey("zlib", "1.2.13", "abc123")

	n, err := store.Put(ctx, key, bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if n != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), n)
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer reader.Close()

	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}
}

func TestBlobStore_PutOverwrites(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	store := NewBlobStore(bucket)
	ctx := context.Background()
	key := RecipeKey("zlib", "1.2.13")

	if _, err := store.Put(ctx, key, strings.NewReader("old")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := store.Put(ctx, key, strings.NewReader("new recipe")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer reader.Close()
	got, _ := io.ReadAll(reader)
	if string(got) != "new recipe" {
		t.Errorf("expected overwritten content, got %q", got)
	}
}

func TestBlobStore_Exists(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	store := NewBlobStore(bucket)
	ctx := context.Background()
	key := CrateKey("zlib", "1.2.13", "abc123")

	exists, err := store.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected blob to not exist")
	}

	if _, err := store.Put(ctx, key, strings.NewReader("crate")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err = store.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected blob to exist")
	}
}

func TestBlobStore_Delete(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	store := NewBlobStore(bucket)
	ctx := context.Background()
	key := BinaryKey("zlib", "1.2.13", "abc123")

	if _, err := store.Put(ctx, key, strings.NewReader("content")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err := store.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected blob to be deleted")
	}

	// Deleting again is not an error.
	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("Delete of missing blob failed: %v", err)
	}
}

func TestBlobStore_GetNotFound(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	store := NewBlobStore(bucket)
	ctx := context.Background()

	if _, err := store.Get(ctx, "binaries/absent/1.0/none.tar.gz"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
