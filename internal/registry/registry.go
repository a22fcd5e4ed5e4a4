// Package registry is the orchestration core of the server: it ties the
// catalog store and the blob store together into the ingest, bundle,
// download and administration operations the protocol adapter exposes.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/conancrates/conancrates/internal/catalog"
	"github.com/conancrates/conancrates/internal/storage"
)

var tracer = otel.Tracer("conancrates/internal/registry")

// Registry coordinates catalog and blob storage. It holds no other mutable
// state; every operation is request-scoped.
type Registry struct {
	cat   catalog.Store
	blobs storage.BlobStore
	host  string // public base URL for download links
}

// New creates a Registry over the given stores. host is the server's
// public base URL, used when building absolute download URLs.
func New(cat catalog.Store, blobs storage.BlobStore, host string) *Registry {
	return &Registry{cat: cat, blobs: blobs, host: host}
}

// Catalog exposes the underlying catalog store for read-only listings.
func (r *Registry) Catalog() catalog.Store { return r.cat }

// Search returns "name/version" refs of packages whose name contains the
// query, one per known version.
func (r *Registry) Search(ctx context.Context, query string) ([]string, error) {
	pkgs, err := r.cat.SearchPackages(ctx, query)
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, p := range pkgs {
		versions, err := r.cat.ListVersions(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			refs = append(refs, p.Name+"/"+v.Version)
		}
	}
	return refs, nil
}

// ManifestDependency is one declared dependency in a version manifest.
type ManifestDependency struct {
	Name               string `json:"name"`
	VersionRequirement string `json:"version_requirement"`
	Type               string `json:"type"`
}

// ManifestBinary is one available binary in a version manifest.
type ManifestBinary struct {
	ID              string `json:"id"`
	OS              string `json:"os"`
	Arch            string `json:"arch"`
	Compiler        string `json:"compiler"`
	CompilerVersion string `json:"compiler_version"`
	BuildType       string `json:"build_type"`
	Size            int64  `json:"size"`
	Checksum        string `json:"checksum"`
	DownloadURL     string `json:"download_url"`
}

// Manifest describes a package version: its metadata, declared
// dependencies and every available binary with an absolute download URL.
type Manifest struct {
	Name         string               `json:"name"`
	Version      string               `json:"version"`
	Description  string               `json:"description"`
	License      string               `json:"license"`
	Author       string               `json:"author"`
	Homepage     string               `json:"homepage"`
	Dependencies []ManifestDependency `json:"dependencies"`
	Binaries     []ManifestBinary     `json:"binaries"`
}

// Manifest builds the dependency manifest for a package version.
func (r *Registry) Manifest(ctx context.Context, pkg, version string) (*Manifest, error) {
	p, err := r.cat.GetPackage(ctx, pkg)
	if err != nil {
		return nil, notFound(err, "package %s", pkg)
	}
	if _, err := r.cat.GetVersion(ctx, pkg, version); err != nil {
		return nil, notFound(err, "version %s/%s", pkg, version)
	}

	m := &Manifest{
		Name:         pkg,
		Version:      version,
		Description:  p.Description,
		License:      p.License,
		Author:       p.Author,
		Homepage:     p.Homepage,
		Dependencies: []ManifestDependency{},
		Binaries:     []ManifestBinary{},
	}

	deps, err := r.cat.ListDependencies(ctx, pkg, version)
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		m.Dependencies = append(m.Dependencies, ManifestDependency{
			Name:               d.RequiresPackage,
			VersionRequirement: d.VersionRequirement,
			Type:               d.Type,
		})
	}

	bins, err := r.cat.ListBinariesForVersion(ctx, pkg, version)
	if err != nil {
		return nil, err
	}
	for _, b := range bins {
		m.Binaries = append(m.Binaries, ManifestBinary{
			ID:              b.PackageID,
			OS:              b.Platform.OS,
			Arch:            b.Platform.Arch,
			Compiler:        b.Platform.Compiler,
			CompilerVersion: b.Platform.CompilerVersion,
			BuildType:       b.Platform.BuildType,
			Size:            b.FileSize,
			Checksum:        b.SHA256,
			DownloadURL:     fmt.Sprintf("%s/packages/%s/%s/binaries/%s/download", r.host, pkg, version, b.PackageID),
		})
	}

	return m, nil
}

// RecipeFiles maps the files associated with a version's recipe to
// their SHA-256 checksums. The map is empty when the version exists but
// carries no recipe content.
func (r *Registry) RecipeFiles(ctx context.Context, pkg, version string) (map[string]string, error) {
	v, err := r.cat.GetVersion(ctx, pkg, version)
	if err != nil {
		return nil, notFound(err, "version %s/%s", pkg, version)
	}
	files := map[string]string{}
	if v.RecipeContent != "" {
		sum := sha256.Sum256([]byte(v.RecipeContent))
		files["conanfile.py"] = hex.EncodeToString(sum[:])
	}
	return files, nil
}

// ListBinaries returns every binary row of a package version.
func (r *Registry) ListBinaries(ctx context.Context, pkg, version string) ([]*catalog.BinaryPackage, error) {
	if _, err := r.cat.GetVersion(ctx, pkg, version); err != nil {
		return nil, notFound(err, "version %s/%s", pkg, version)
	}
	return r.cat.ListBinariesForVersion(ctx, pkg, version)
}

// DownloadBinary opens the binary blob of (pkg, version, packageID) and
// increments the binary and package download counters.
func (r *Registry) DownloadBinary(ctx context.Context, pkg, version, packageID string) (io.ReadCloser, *catalog.BinaryPackage, error) {
	b, err := r.binaryForVersion(ctx, pkg, version, packageID)
	if err != nil {
		return nil, nil, err
	}
	if b.BlobKey == "" {
		return nil, nil, fmt.Errorf("binary %s: %w", packageID, ErrNotFound)
	}

	rc, err := r.blobs.Get(ctx, b.BlobKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("binary blob %s: %w", b.BlobKey, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrBlobIO, err)
	}

	r.countDownload(ctx, b)
	return rc, b, nil
}

// DownloadRecipe opens the recipe blob of a package version and counts the
// download against the package.
func (r *Registry) DownloadRecipe(ctx context.Context, pkg, version string) (io.ReadCloser, error) {
	v, err := r.cat.GetVersion(ctx, pkg, version)
	if err != nil {
		return nil, notFound(err, "version %s/%s", pkg, version)
	}
	if v.RecipeBlobKey == "" {
		return nil, fmt.Errorf("recipe for %s/%s: %w", pkg, version, ErrNotFound)
	}
	rc, err := r.blobs.Get(ctx, v.RecipeBlobKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("recipe blob %s: %w", v.RecipeBlobKey, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrBlobIO, err)
	}
	if err := r.cat.IncrementPackageDownloads(ctx, pkg); err != nil {
		slog.WarnContext(ctx, "failed to count recipe download", "package", pkg, "err", err)
	}
	return rc, nil
}

// DownloadCrate opens the generated crate archive of a binary, if one was
// ever stored for it.
func (r *Registry) DownloadCrate(ctx context.Context, pkg, version, packageID string) (io.ReadCloser, *catalog.BinaryPackage, error) {
	b, err := r.binaryForVersion(ctx, pkg, version, packageID)
	if err != nil {
		return nil, nil, err
	}
	if b.CrateBlobKey == "" {
		return nil, nil, fmt.Errorf("crate for binary %s: %w", packageID, ErrNotFound)
	}
	rc, err := r.blobs.Get(ctx, b.CrateBlobKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("crate blob %s: %w", b.CrateBlobKey, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrBlobIO, err)
	}
	r.countDownload(ctx, b)
	return rc, b, nil
}

// DeletePackage cascade-deletes a package, its versions, binaries and
// dependency rows, then deletes the blobs the catalog rows referenced.
// The catalog delete runs first so a blob store failure can never leave a
// catalog pointer to a deleted row; leftover blobs are logged and
// harmless.
func (r *Registry) DeletePackage(ctx context.Context, name string) error {
	keys, err := r.cat.DeletePackage(ctx, name)
	if err != nil {
		return notFound(err, "package %s", name)
	}
	r.deleteBlobs(ctx, keys)
	return nil
}

// DeleteVersion cascade-deletes one package version.
func (r *Registry) DeleteVersion(ctx context.Context, pkg, version string) error {
	keys, err := r.cat.DeleteVersion(ctx, pkg, version)
	if err != nil {
		return notFound(err, "version %s/%s", pkg, version)
	}
	r.deleteBlobs(ctx, keys)
	return nil
}

// DeleteBinary deletes one binary row and its blobs.
func (r *Registry) DeleteBinary(ctx context.Context, packageID string) error {
	keys, err := r.cat.DeleteBinary(ctx, packageID)
	if err != nil {
		return notFound(err, "binary %s", packageID)
	}
	r.deleteBlobs(ctx, keys)
	return nil
}

func (r *Registry) deleteBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := r.blobs.Delete(ctx, key); err != nil {
			slog.ErrorContext(ctx, "failed to delete blob after cascade", "key", key, "err", err)
		}
	}
}

// binaryForVersion resolves a binary by package_id and checks it actually
// belongs to the named package version.
func (r *Registry) binaryForVersion(ctx context.Context, pkg, version, packageID string) (*catalog.BinaryPackage, error) {
	b, err := r.cat.GetBinary(ctx, packageID)
	if err != nil {
		return nil, notFound(err, "binary %s", packageID)
	}
	if b.Package != pkg || b.Version != version {
		return nil, fmt.Errorf("binary %s does not belong to %s/%s: %w", packageID, pkg, version, ErrNotFound)
	}
	return b, nil
}

func (r *Registry) countDownload(ctx context.Context, b *catalog.BinaryPackage) {
	if err := r.cat.IncrementBinaryDownloads(ctx, b.PackageID); err != nil {
		slog.WarnContext(ctx, "failed to count binary download", "package_id", b.PackageID, "err", err)
	}
	if err := r.cat.IncrementPackageDownloads(ctx, b.Package); err != nil {
		slog.WarnContext(ctx, "failed to count package download", "package", b.Package, "err", err)
	}
}

// notFound maps catalog.ErrNotFound onto the registry taxonomy, keeping
// store-specific error types below this boundary.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return err
}
