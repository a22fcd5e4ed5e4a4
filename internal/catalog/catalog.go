// Package catalog is the persistent catalog of packages, versions,
// binaries, declared dependencies and topics. Uniqueness invariants are
// enforced at the storage layer through natural document keys: package
// name, "name/version", the resolver-assigned package_id (global across
// the whole catalog) and topic slug.
package catalog

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Package is a named unit of distributable software.
type Package struct {
	Name          string
	Description   string
	Homepage      string
	License       string
	Author        string
	Topics        string // free-text, comma separated
	DownloadCount int64
	CreateTime    time.Time
	UpdateTime    time.Time
}

// PackageVersion is one version of a package, carrying its recipe.
type PackageVersion struct {
	Package         string
	Version         string
	RecipeRevision  string
	RecipeContent   string
	RecipeBlobKey   string
	ResolverVersion string // resolver version string observed at upload
	CreateTime      time.Time
	UpdateTime      time.Time
}

// Platform is the configuration tuple identifying a build target.
// Empty dimensions act as wildcards in catalog queries.
type Platform struct {
	OS              string
	Arch            string
	Compiler        string
	CompilerVersion string
	BuildType       string
}

// BinaryPackage is one compiled artifact of a package version, identified
// by the resolver-assigned package_id. The stored dependency graph is the
// resolver output captured verbatim at upload time; bundle resolution
// replays it without re-resolving.
type BinaryPackage struct {
	PackageID       string
	Package         string
	Version         string
	Platform        Platform
	Options         map[string]string
	BlobKey         string
	FileSize        int64
	SHA256          string
	CrateBlobKey    string // optional generated crate archive
	DependencyGraph string // serialized resolver graph, may be empty
	GeneratedID     bool   // package_id was derived server-side, not resolver-assigned
	DownloadCount   int64
	CreateTime      time.Time
}

// Dependency kinds, matching the recipe's requirement sections.
const (
	DepRequires      = "requires"
	DepBuildRequires = "build_requires"
	DepTestRequires  = "test_requires"
)

// Dependency is a declared requirement edge from a package version to a
// package. It is descriptive metadata only; bundle construction relies on
// the stored graph, which need not agree with these rows.
type Dependency struct {
	Package            string
	Version            string
	RequiresPackage    string
	VersionRequirement string
	Type               string
}

// Topic tags packages for browsing. Deleting a package removes the
// association, never the topic.
type Topic struct {
	Slug        string
	Name        string
	Description string
	Packages    []string
}

// Store is the catalog storage layer. Upserts are atomic per key: a row is
// replaced in a single write, never field by field, so concurrent writers
// of the same key serialize to last-writer-wins. Cascade deletes return
// the blob keys the deleted rows referenced; the caller owns deleting the
// blobs afterwards.
type Store interface {
	// UpsertPackage creates the package or updates it in place. On an
	// existing package, descriptive fields are only overwritten by
	// non-empty new values; the download counter and create time are
	// always preserved.
	UpsertPackage(ctx context.Context, pkg *Package) error
	GetPackage(ctx context.Context, name string) (*Package, error)
	ListPackages(ctx context.Context) ([]*Package, error)
	// SearchPackages matches the query as a case-insensitive substring
	// of package names.
	SearchPackages(ctx context.Context, query string) ([]*Package, error)

	// UpsertVersion creates or replaces the (package, version) row.
	// Recipe content is always overwritten on re-ingestion.
	UpsertVersion(ctx context.Context, v *PackageVersion) error
	GetVersion(ctx context.Context, pkg, version string) (*PackageVersion, error)
	ListVersions(ctx context.Context, pkg string) ([]*PackageVersion, error)

	// UpsertBinary creates or replaces the row keyed by package_id in
	// one atomic write: blob key, checksum, size and stored graph are
	// never observable in a mixed old/new state. A package_id colliding
	// across versions collapses to the latest row.
	UpsertBinary(ctx context.Context, b *BinaryPackage) error
	GetBinary(ctx context.Context, packageID string) (*BinaryPackage, error)
	// FindBinaryByConfig matches binaries of (pkg, version) against the
	// supplied platform; empty dimensions are wildcards.
	FindBinaryByConfig(ctx context.Context, pkg, version string, p Platform) (*BinaryPackage, error)
	ListBinariesForVersion(ctx context.Context, pkg, version string) ([]*BinaryPackage, error)

	UpsertDependency(ctx context.Context, d *Dependency) error
	ListDependencies(ctx context.Context, pkg, version string) ([]*Dependency, error)

	UpsertTopic(ctx context.Context, t *Topic) error
	GetTopic(ctx context.Context, slug string) (*Topic, error)
	ListTopics(ctx context.Context) ([]*Topic, error)
	AddPackageToTopic(ctx context.Context, slug, pkg string) error

	// Cascade deletes. Each removes the row plus everything it owns and
	// returns the blob keys of the removed rows.
	DeletePackage(ctx context.Context, name string) ([]string, error)
	DeleteVersion(ctx context.Context, pkg, version string) ([]string, error)
	DeleteBinary(ctx context.Context, packageID string) ([]string, error)

	IncrementPackageDownloads(ctx context.Context, name string) error
	IncrementBinaryDownloads(ctx context.Context, packageID string) error
}
