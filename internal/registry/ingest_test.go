package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/conancrates/conancrates/internal/catalog"
	"github.com/conancrates/conancrates/internal/storage"
)

func TestIngest_MissingPayload(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	cases := []*IngestRequest{
		{PackageName: "", Version: "1.0", Recipe: []byte("r"), Binary: bytes.NewReader([]byte("b"))},
		{PackageName: "zlib", Version: "", Recipe: []byte("r"), Binary: bytes.NewReader([]byte("b"))},
		{PackageName: "zlib", Version: "1.0", Recipe: nil, Binary: bytes.NewReader([]byte("b"))},
		{PackageName: "zlib", Version: "1.0", Recipe: []byte("r"), Binary: nil},
	}
	for i, req := range cases {
		if _, err := r.Ingest(ctx, req); !errors.Is(err, ErrMissingPayload) {
			t.Errorf("case %d: expected ErrMissingPayload, got %v", i, err)
		}
	}
}

func TestIngest_StoresEverything(t *testing.T) {
	r, cat, blobs := newTestRegistry(t)
	ctx := context.Background()

	payload := []byte("zlib binary bytes")
	res := ingestZlib(t, r)

	wantSum := sha256.Sum256(payload)
	if res.SHA256 != hex.EncodeToString(wantSum[:]) {
		t.Errorf("checksum mismatch: %s", res.SHA256)
	}
	if res.Size != int64(len(payload)) {
		t.Errorf("size mismatch: %d", res.Size)
	}
	if res.PackageID != "abc123" || res.IDSource != IDSourceResolver {
		t.Errorf("unexpected identity: %+v", res)
	}

	pkg, err := cat.GetPackage(ctx, "zlib")
	if err != nil {
		t.Fatalf("GetPackage failed: %v", err)
	}
	if pkg.License != "Zlib" || pkg.Homepage != "https://zlib.net" {
		t.Errorf("recipe metadata not applied: %+v", pkg)
	}

	v, err := cat.GetVersion(ctx, "zlib", "1.2.13")
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if v.RecipeContent != zlibRecipe {
		t.Error("recipe content not stored")
	}

	b, err := cat.GetBinary(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetBinary failed: %v", err)
	}
	if b.SHA256 != res.SHA256 || b.FileSize != res.Size {
		t.Errorf("binary row mismatch: %+v", b)
	}
	if b.GeneratedID {
		t.Error("resolver-assigned id flagged as generated")
	}

	for _, key := range []string{
		storage.BinaryKey("zlib", "1.2.13", "abc123"),
		storage.RecipeKey("zlib", "1.2.13"),
	} {
		exists, err := blobs.Exists(ctx, key)
		if err != nil {
			t.Fatalf("Exists(%s) failed: %v", key, err)
		}
		if !exists {
			t.Errorf("blob %s not stored", key)
		}
	}
}

func TestIngest_ReingestReplacesBinary(t *testing.T) {
	r, cat, blobs := newTestRegistry(t)
	ctx := context.Background()

	ingestZlib(t, r)

	newPayload := []byte("new zlib binary, different bytes")
	res, err := r.Ingest(ctx, &IngestRequest{
		PackageName:     "zlib",
		Version:         "1.2.13",
		Recipe:          []byte(zlibRecipe),
		Binary:          bytes.NewReader(newPayload),
		PackageID:       "abc123",
		DependencyGraph: []byte(`{"graph":{"nodes":{"0":{"ref":"zlib/1.2.13","package_id":"abc123"}}}}`),
		Platform:        DefaultPlatform(),
	})
	if err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}

	b, err := cat.GetBinary(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetBinary failed: %v", err)
	}
	if b.SHA256 != res.SHA256 || b.FileSize != int64(len(newPayload)) {
		t.Errorf("checksum/size not replaced: %+v", b)
	}
	if b.DependencyGraph == "" {
		t.Error("stored graph not replaced")
	}

	// The catalog points at exactly one blob, which now holds the new
	// bytes.
	rc, err := blobs.Get(ctx, b.BlobKey)
	if err != nil {
		t.Fatalf("Get blob failed: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, newPayload) {
		t.Error("old blob still reachable via catalog")
	}
}

func TestIngest_FallbackPackageID(t *testing.T) {
	r, cat, _ := newTestRegistry(t)
	ctx := context.Background()

	req := func() *IngestRequest {
		return &IngestRequest{
			PackageName: "zlib",
			Version:     "1.2.13",
			Recipe:      []byte(zlibRecipe),
			Binary:      bytes.NewReader([]byte("payload")),
			Platform:    DefaultPlatform(),
		}
	}

	res1, err := r.Ingest(ctx, req())
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if res1.IDSource != IDSourceGenerated {
		t.Errorf("expected generated id source, got %q", res1.IDSource)
	}
	if res1.PackageID == "" {
		t.Fatal("no package id derived")
	}

	// Deterministic: same configuration, same id.
	res2, err := r.Ingest(ctx, req())
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if res2.PackageID != res1.PackageID {
		t.Errorf("fallback id not deterministic: %q vs %q", res1.PackageID, res2.PackageID)
	}

	b, err := cat.GetBinary(ctx, res1.PackageID)
	if err != nil {
		t.Fatalf("GetBinary failed: %v", err)
	}
	if !b.GeneratedID {
		t.Error("generated id not flagged on the catalog row")
	}
}

func TestIngest_DeclaredDependencies(t *testing.T) {
	r, cat, _ := newTestRegistry(t)
	ctx := context.Background()

	ingestZlib(t, r)
	ingestBoost(t, r)

	deps, err := cat.ListDependencies(ctx, "boost", "1.81.0")
	if err != nil {
		t.Fatalf("ListDependencies failed: %v", err)
	}
	if len(deps) != 1 {
		t.Fatalf("expected 1 declared dependency, got %d", len(deps))
	}
	d := deps[0]
	if d.RequiresPackage != "zlib" || d.Type != catalog.DepRequires || d.VersionRequirement != "1.2.13" {
		t.Errorf("unexpected dependency row: %+v", d)
	}

	// The placeholder creation must not have blanked zlib's recipe.
	v, err := cat.GetVersion(ctx, "zlib", "1.2.13")
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if v.RecipeContent == "" {
		t.Error("declared dependency processing blanked an existing recipe")
	}
}

func TestIngest_DoesNotBlankPackageMetadata(t *testing.T) {
	r, cat, _ := newTestRegistry(t)
	ctx := context.Background()

	ingestZlib(t, r)

	// Second upload with a bare recipe that carries no metadata.
	if _, err := r.Ingest(ctx, &IngestRequest{
		PackageName: "zlib",
		Version:     "1.2.14",
		Recipe:      []byte(`name = "zlib"` + "\n" + `version = "1.2.14"`),
		Binary:      bytes.NewReader([]byte("more bytes")),
		PackageID:   "xyz789",
		Platform:    DefaultPlatform(),
	}); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	pkg, err := cat.GetPackage(ctx, "zlib")
	if err != nil {
		t.Fatalf("GetPackage failed: %v", err)
	}
	if pkg.License != "Zlib" {
		t.Errorf("metadata blanked by later upload: %+v", pkg)
	}
}

func TestStoreBinary_RequiresExistingVersion(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.StoreBinary(context.Background(), &BinaryUpload{
		PackageName: "zlib",
		Version:     "1.2.13",
		PackageID:   "abc123",
		Binary:      strings.NewReader("zlib binary bytes"),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound without a stored recipe, got %v", err)
	}
}

func TestIngest_RecordsTopics(t *testing.T) {
	r, cat, _ := newTestRegistry(t)
	ctx := context.Background()

	recipe := zlibRecipe + `    topics = ("compression",)
`
	if _, err := r.Ingest(ctx, &IngestRequest{
		PackageName: "zlib",
		Version:     "1.2.13",
		Recipe:      []byte(recipe),
		Binary:      strings.NewReader("zlib binary bytes"),
		PackageID:   "abc123",
	}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	topic, err := cat.GetTopic(ctx, "compression")
	if err != nil {
		t.Fatalf("GetTopic failed: %v", err)
	}
	if len(topic.Packages) != 1 || topic.Packages[0] != "zlib" {
		t.Errorf("unexpected topic packages: %v", topic.Packages)
	}
}

func TestStoreCrate(t *testing.T) {
	r, cat, blobs := newTestRegistry(t)
	ctx := context.Background()

	ingestZlib(t, r)

	size, err := r.StoreCrate(ctx, "zlib", "1.2.13", "abc123", bytes.NewReader([]byte("crate archive")))
	if err != nil {
		t.Fatalf("StoreCrate failed: %v", err)
	}
	if size != int64(len("crate archive")) {
		t.Errorf("unexpected crate size %d", size)
	}

	b, err := cat.GetBinary(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetBinary failed: %v", err)
	}
	if b.CrateBlobKey == "" {
		t.Fatal("crate blob key not recorded")
	}
	exists, err := blobs.Exists(ctx, b.CrateBlobKey)
	if err != nil || !exists {
		t.Errorf("crate blob missing: exists=%v err=%v", exists, err)
	}

	if _, err := r.StoreCrate(ctx, "zlib", "1.2.13", "nope", bytes.NewReader([]byte("x"))); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown binary, got %v", err)
	}
}
