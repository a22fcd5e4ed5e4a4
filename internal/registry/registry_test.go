package registry

import (
	"bytes"
	"context"
	"testing"

	"gocloud.dev/blob/memblob"
	"gocloud.dev/docstore/memdocstore"

	"github.com/conancrates/conancrates/internal/catalog"
	"github.com/conancrates/conancrates/internal/storage"
)

const testHost = "http://registry.test"

func newTestRegistry(t *testing.T) (*Registry, catalog.Store, storage.BlobStore) {
	t.Helper()

	packages, err := memdocstore.OpenCollection("name", nil)
	if err != nil {
		t.Fatalf("open packages: %v", err)
	}
	versions, err := memdocstore.OpenCollection("id", nil)
	if err != nil {
		t.Fatalf("open versions: %v", err)
	}
	binaries, err := memdocstore.OpenCollection("package_id", nil)
	if err != nil {
		t.Fatalf("open binaries: %v", err)
	}
	dependencies, err := memdocstore.OpenCollection("id", nil)
	if err != nil {
		t.Fatalf("open dependencies: %v", err)
	}
	topics, err := memdocstore.OpenCollection("slug", nil)
	if err != nil {
		t.Fatalf("open topics: %v", err)
	}

	cat := catalog.NewDocStore(packages, versions, binaries, dependencies, topics)

	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	blobs := storage.NewBlobStore(bucket)

	return New(cat, blobs, testHost), cat, blobs
}

func ingestZlib(t *testing.T, r *Registry) *IngestResult {
	t.Helper()
	res, err := r.Ingest(context.Background(), &IngestRequest{
		PackageName: "zlib",
		Version:     "1.2.13",
		Recipe:      []byte(zlibRecipe),
		Binary:      bytes.NewReader([]byte("zlib binary bytes")),
		PackageID:   "abc123",
		Platform: catalog.Platform{
			OS: "Linux", Arch: "x86_64", Compiler: "gcc", CompilerVersion: "11", BuildType: "Release",
		},
	})
	if err != nil {
		t.Fatalf("ingest zlib: %v", err)
	}
	return res
}

const zlibRecipe = `from conan import ConanFile

class ZlibConan(ConanFile):
    name = "zlib"
    version = "1.2.13"
    description = "A massively spiffy yet delicately unobtrusive compression library"
    license = "Zlib"
    homepage = "https://zlib.net"
`

const boostRecipe = `from conan import ConanFile

class BoostConan(ConanFile):
    name = "boost"
    version = "1.81.0"
    description = "Boost provides free peer-reviewed portable C++ source libraries"
    license = "BSL-1.0"
    requires = ["zlib/1.2.13"]
`

const boostGraph = `{"graph":{"nodes":{
  "0": {"ref": "boost/1.81.0", "package_id": "def456"},
  "1": {"ref": "zlib/1.2.13#bbe976a2", "package_id": "abc123"}
}}}`

func ingestBoost(t *testing.T, r *Registry) *IngestResult {
	t.Helper()
	res, err := r.Ingest(context.Background(), &IngestRequest{
		PackageName:     "boost",
		Version:         "1.81.0",
		Recipe:          []byte(boostRecipe),
		Binary:          bytes.NewReader([]byte("boost binary bytes")),
		PackageID:       "def456",
		DependencyGraph: []byte(boostGraph),
		Platform: catalog.Platform{
			OS: "Linux", Arch: "x86_64", Compiler: "gcc", CompilerVersion: "11", BuildType: "Release",
		},
	})
	if err != nil {
		t.Fatalf("ingest boost: %v", err)
	}
	return res
}
