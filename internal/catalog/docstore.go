package catalog

import (
	"context"
	"io"
	"strings"
	"time"

	"gocloud.dev/docstore"
	"gocloud.dev/gcerrors"
)

// Document types for docstore collections. These mirror the catalog
// records but with docstore-compatible field tags. Key field paths:
// packages "name", versions "id", binaries "package_id", dependencies
// "id", topics "slug".

// PackageDoc is the docstore document for packages.
type PackageDoc struct {
	Name          string    `docstore:"name"`
	Description   string    `docstore:"description,omitempty"`
	Homepage      string    `docstore:"homepage,omitempty"`
	License       string    `docstore:"license,omitempty"`
	Author        string    `docstore:"author,omitempty"`
	Topics        string    `docstore:"topics,omitempty"`
	DownloadCount int64     `docstore:"download_count"`
	CreateTime    time.Time `docstore:"create_time"`
	UpdateTime    time.Time `docstore:"update_time"`
}

// VersionDoc is the docstore document for package versions.
// ID is "<package>/<version>", which enforces (package, version)
// uniqueness at the storage layer.
type VersionDoc struct {
	ID              string    `docstore:"id"`
	Package         string    `docstore:"package"`
	Version         string    `docstore:"version"`
	RecipeRevision  string    `docstore:"recipe_revision,omitempty"`
	RecipeContent   string    `docstore:"recipe_content,omitempty"`
	RecipeBlobKey   string    `docstore:"recipe_blob_key,omitempty"`
	ResolverVersion string    `docstore:"resolver_version,omitempty"`
	CreateTime      time.Time `docstore:"create_time"`
	UpdateTime      time.Time `docstore:"update_time"`
}

// BinaryDoc is the docstore document for binary packages. The document
// key is the package_id itself, which makes its global uniqueness a
// property of the store, and makes replacing checksum, size and stored
// graph a single atomic Put.
type BinaryDoc struct {
	PackageID       string            `docstore:"package_id"`
	Package         string            `docstore:"package"`
	Version         string            `docstore:"version"`
	OS              string            `docstore:"os,omitempty"`
	Arch            string            `docstore:"arch,omitempty"`
	Compiler        string            `docstore:"compiler,omitempty"`
	CompilerVersion string            `docstore:"compiler_version,omitempty"`
	BuildType       string            `docstore:"build_type,omitempty"`
	Options         map[string]string `docstore:"options,omitempty"`
	BlobKey         string            `docstore:"blob_key,omitempty"`
	FileSize        int64             `docstore:"file_size"`
	SHA256          string            `docstore:"sha256,omitempty"`
	CrateBlobKey    string            `docstore:"crate_blob_key,omitempty"`
	DependencyGraph string            `docstore:"dependency_graph,omitempty"`
	GeneratedID     bool              `docstore:"generated_id,omitempty"`
	DownloadCount   int64             `docstore:"download_count"`
	CreateTime      time.Time         `docstore:"create_time"`
}

// DependencyDoc is the docstore document for declared dependency rows.
// ID is "<package>/<version>|<requires>|<type>", enforcing the
// (package_version, requires_package, type) uniqueness constraint.
type DependencyDoc struct {
	ID                 string `docstore:"id"`
	Package            string `docstore:"package"`
	Version            string `docstore:"version"`
	RequiresPackage    string `docstore:"requires_package"`
	VersionRequirement string `docstore:"version_requirement,omitempty"`
	Type               string `docstore:"type"`
}

// TopicDoc is the docstore document for topics.
type TopicDoc struct {
	Slug        string   `docstore:"slug"`
	Name        string   `docstore:"name"`
	Description string   `docstore:"description,omitempty"`
	Packages    []string `docstore:"packages,omitempty"`
}

// DocStore implements Store using gocloud.dev/docstore.
type DocStore struct {
	packages     *docstore.Collection
	versions     *docstore.Collection
	binaries     *docstore.Collection
	dependencies *docstore.Collection
	topics       *docstore.Collection
}

// NewDocStore creates a new gocloud.dev/docstore-backed catalog store.
func NewDocStore(packages, versions, binaries, dependencies, topics *docstore.Collection) *DocStore {
	return &DocStore{
		packages:     packages,
		versions:     versions,
		binaries:     binaries,
		dependencies: dependencies,
		topics:       topics,
	}
}

var _ Store = &DocStore{}

// Close closes all docstore collections.
func (s *DocStore) Close() error {
	var errs []error
	for _, c := range []*docstore.Collection{s.packages, s.versions, s.binaries, s.dependencies, s.topics} {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func versionID(pkg, version string) string {
	return pkg + "/" + version
}

func dependencyID(pkg, version, requires, typ string) string {
	return versionID(pkg, version) + "|" + requires + "|" + typ
}

// ----- Package operations -----

func (s *DocStore) UpsertPackage(ctx context.Context, pkg *Package) error {
	now := time.Now().UTC()
	doc := &PackageDoc{
		Name:          pkg.Name,
		Description:   pkg.Description,
		Homepage:      pkg.Homepage,
		License:       pkg.License,
		Author:        pkg.Author,
		Topics:        pkg.Topics,
		DownloadCount: pkg.DownloadCount,
		CreateTime:    now,
		UpdateTime:    now,
	}

	existing := &PackageDoc{Name: pkg.Name}
	err := s.packages.Get(ctx, existing)
	switch {
	case err == nil:
		// Never blank out descriptive metadata on re-ingestion, and
		// never reset stats.
		if doc.Description == "" {
			doc.Description = existing.Description
		}
		if doc.Homepage == "" {
			doc.Homepage = existing.Homepage
		}
		if doc.License == "" {
			doc.License = existing.License
		}
		if doc.Author == "" {
			doc.Author = existing.Author
		}
		if doc.Topics == "" {
			doc.Topics = existing.Topics
		}
		doc.DownloadCount = existing.DownloadCount
		doc.CreateTime = existing.CreateTime
	case gcerrors.Code(err) == gcerrors.NotFound:
		// fresh row
	default:
		return err
	}

	return s.packages.Put(ctx, doc)
}

func (s *DocStore) GetPackage(ctx context.Context, name string) (*Package, error) {
	doc := &PackageDoc{Name: name}
	if err := s.packages.Get(ctx, doc); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return packageFromDoc(doc), nil
}

func (s *DocStore) ListPackages(ctx context.Context) ([]*Package, error) {
	iter := s.packages.Query().Get(ctx)
	defer iter.Stop()

	var pkgs []*Package
	for {
		doc := &PackageDoc{}
		if err := iter.Next(ctx, doc); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		pkgs = append(pkgs, packageFromDoc(doc))
	}
	return pkgs, nil
}

func (s *DocStore) SearchPackages(ctx context.Context, query string) ([]*Package, error) {
	// Docstore has no substring predicate; filter a full scan. The
	// package collection is the smallest of the five.
	all, err := s.ListPackages(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []*Package
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Name), q) {
			out = append(out, p)
		}
	}
	return out, nil
}

func packageFromDoc(doc *PackageDoc) *Package {
	return &Package{
		Name:          doc.Name,
		Description:   doc.Description,
		Homepage:      doc.Homepage,
		License:       doc.License,
		Author:        doc.Author,
		Topics:        doc.Topics,
		DownloadCount: doc.DownloadCount,
		CreateTime:    doc.CreateTime,
		UpdateTime:    doc.UpdateTime,
	}
}

// ----- Version operations -----

func (s *DocStore) UpsertVersion(ctx context.Context, v *PackageVersion) error {
	now := time.Now().UTC()
	doc := &VersionDoc{
		ID:              versionID(v.Package, v.Version),
		Package:         v.Package,
		Version:         v.Version,
		RecipeRevision:  v.RecipeRevision,
		RecipeContent:   v.RecipeContent,
		RecipeBlobKey:   v.RecipeBlobKey,
		ResolverVersion: v.ResolverVersion,
		CreateTime:      now,
		UpdateTime:      now,
	}

	existing := &VersionDoc{ID: doc.ID}
	err := s.versions.Get(ctx, existing)
	switch {
	case err == nil:
		doc.CreateTime = existing.CreateTime
		if doc.RecipeBlobKey == "" {
			doc.RecipeBlobKey = existing.RecipeBlobKey
		}
	case gcerrors.Code(err) == gcerrors.NotFound:
	default:
		return err
	}

	return s.versions.Put(ctx, doc)
}

func (s *DocStore) GetVersion(ctx context.Context, pkg, version string) (*PackageVersion, error) {
	doc := &VersionDoc{ID: versionID(pkg, version)}
	if err := s.versions.Get(ctx, doc); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return versionFromDoc(doc), nil
}

func (s *DocStore) ListVersions(ctx context.Context, pkg string) ([]*PackageVersion, error) {
	iter := s.versions.Query().Where("package", "=", pkg).Get(ctx)
	defer iter.Stop()

	var versions []*PackageVersion
	for {
		doc := &VersionDoc{}
		if err := iter.Next(ctx, doc); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		versions = append(versions, versionFromDoc(doc))
	}
	return versions, nil
}

func versionFromDoc(doc *VersionDoc) *PackageVersion {
	return &PackageVersion{
		Package:         doc.Package,
		Version:         doc.Version,
		RecipeRevision:  doc.RecipeRevision,
		RecipeContent:   doc.RecipeContent,
		RecipeBlobKey:   doc.RecipeBlobKey,
		ResolverVersion: doc.ResolverVersion,
		CreateTime:      doc.CreateTime,
		UpdateTime:      doc.UpdateTime,
	}
}

// ----- Binary operations -----

func (s *DocStore) UpsertBinary(ctx context.Context, b *BinaryPackage) error {
	doc := binaryToDoc(b)
	doc.CreateTime = time.Now().UTC()

	existing := &BinaryDoc{PackageID: b.PackageID}
	err := s.binaries.Get(ctx, existing)
	switch {
	case err == nil:
		doc.CreateTime = existing.CreateTime
		doc.DownloadCount = existing.DownloadCount
		if doc.CrateBlobKey == "" {
			doc.CrateBlobKey = existing.CrateBlobKey
		}
	case gcerrors.Code(err) == gcerrors.NotFound:
	default:
		return err
	}

	// Single Put: blob key, checksum, size and graph change together or
	// not at all.
	return s.binaries.Put(ctx, doc)
}

func (s *DocStore) GetBinary(ctx context.Context, packageID string) (*BinaryPackage, error) {
	doc := &BinaryDoc{PackageID: packageID}
	if err := s.binaries.Get(ctx, doc); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return binaryFromDoc(doc), nil
}

func (s *DocStore) FindBinaryByConfig(ctx context.Context, pkg, version string, p Platform) (*BinaryPackage, error) {
	q := s.binaries.Query().
		Where("package", "=", pkg).
		Where("version", "=", version)
	if p.OS != "" {
		q = q.Where("os", "=", p.OS)
	}
	if p.Arch != "" {
		q = q.Where("arch", "=", p.Arch)
	}
	if p.Compiler != "" {
		q = q.Where("compiler", "=", p.Compiler)
	}
	if p.CompilerVersion != "" {
		q = q.Where("compiler_version", "=", p.CompilerVersion)
	}
	if p.BuildType != "" {
		q = q.Where("build_type", "=", p.BuildType)
	}

	iter := q.Get(ctx)
	defer iter.Stop()

	doc := &BinaryDoc{}
	if err := iter.Next(ctx, doc); err != nil {
		if err == io.EOF {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return binaryFromDoc(doc), nil
}

func (s *DocStore) ListBinariesForVersion(ctx context.Context, pkg, version string) ([]*BinaryPackage, error) {
	iter := s.binaries.Query().
		Where("package", "=", pkg).
		Where("version", "=", version).
		Get(ctx)
	defer iter.Stop()

	var bins []*BinaryPackage
	for {
		doc := &BinaryDoc{}
		if err := iter.Next(ctx, doc); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		bins = append(bins, binaryFromDoc(doc))
	}
	return bins, nil
}

func binaryToDoc(b *BinaryPackage) *BinaryDoc {
	return &BinaryDoc{
		PackageID:       b.PackageID,
		Package:         b.Package,
		Version:         b.Version,
		OS:              b.Platform.OS,
		Arch:            b.Platform.Arch,
		Compiler:        b.Platform.Compiler,
		CompilerVersion: b.Platform.CompilerVersion,
		BuildType:       b.Platform.BuildType,
		Options:         b.Options,
		BlobKey:         b.BlobKey,
		FileSize:        b.FileSize,
		SHA256:          b.SHA256,
		CrateBlobKey:    b.CrateBlobKey,
		DependencyGraph: b.DependencyGraph,
		GeneratedID:     b.GeneratedID,
		DownloadCount:   b.DownloadCount,
		CreateTime:      b.CreateTime,
	}
}

func binaryFromDoc(doc *BinaryDoc) *BinaryPackage {
	return &BinaryPackage{
		PackageID: doc.PackageID,
		Package:   doc.Package,
		Version:   doc.Version,
		Platform: Platform{
			OS:              doc.OS,
			Arch:            doc.Arch,
			Compiler:        doc.Compiler,
			CompilerVersion: doc.CompilerVersion,
			BuildType:       doc.BuildType,
		},
		Options:         doc.Options,
		BlobKey:         doc.BlobKey,
		FileSize:        doc.FileSize,
		SHA256:          doc.SHA256,
		CrateBlobKey:    doc.CrateBlobKey,
		DependencyGraph: doc.DependencyGraph,
		GeneratedID:     doc.GeneratedID,
		DownloadCount:   doc.DownloadCount,
		CreateTime:      doc.CreateTime,
	}
}

// ----- Dependency operations -----

func (s *DocStore) UpsertDependency(ctx context.Context, d *Dependency) error {
	doc := &DependencyDoc{
		ID:                 dependencyID(d.Package, d.Version, d.RequiresPackage, d.Type),
		Package:            d.Package,
		Version:            d.Version,
		RequiresPackage:    d.RequiresPackage,
		VersionRequirement: d.VersionRequirement,
		Type:               d.Type,
	}
	return s.dependencies.Put(ctx, doc)
}

func (s *DocStore) ListDependencies(ctx context.Context, pkg, version string) ([]*Dependency, error) {
	iter := s.dependencies.Query().
		Where("package", "=", pkg).
		Where("version", "=", version).
		Get(ctx)
	defer iter.Stop()

	var deps []*Dependency
	for {
		doc := &DependencyDoc{}
		if err := iter.Next(ctx, doc); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		deps = append(deps, &Dependency{
			Package:            doc.Package,
			Version:            doc.Version,
			RequiresPackage:    doc.RequiresPackage,
			VersionRequirement: doc.VersionRequirement,
			Type:               doc.Type,
		})
	}
	return deps, nil
}

// ----- Topic operations -----

func (s *DocStore) UpsertTopic(ctx context.Context, t *Topic) error {
	doc := &TopicDoc{
		Slug:        t.Slug,
		Name:        t.Name,
		Description: t.Description,
		Packages:    t.Packages,
	}
	existing := &TopicDoc{Slug: t.Slug}
	err := s.topics.Get(ctx, existing)
	switch {
	case err == nil:
		if len(doc.Packages) == 0 {
			doc.Packages = existing.Packages
		}
	case gcerrors.Code(err) == gcerrors.NotFound:
	default:
		return err
	}
	return s.topics.Put(ctx, doc)
}

func (s *DocStore) GetTopic(ctx context.Context, slug string) (*Topic, error) {
	doc := &TopicDoc{Slug: slug}
	if err := s.topics.Get(ctx, doc); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Topic{Slug: doc.Slug, Name: doc.Name, Description: doc.Description, Packages: doc.Packages}, nil
}

func (s *DocStore) ListTopics(ctx context.Context) ([]*Topic, error) {
	iter := s.topics.Query().Get(ctx)
	defer iter.Stop()

	var topics []*Topic
	for {
		doc := &TopicDoc{}
		if err := iter.Next(ctx, doc); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		topics = append(topics, &Topic{Slug: doc.Slug, Name: doc.Name, Description: doc.Description, Packages: doc.Packages})
	}
	return topics, nil
}

func (s *DocStore) AddPackageToTopic(ctx context.Context, slug, pkg string) error {
	doc := &TopicDoc{Slug: slug}
	if err := s.topics.Get(ctx, doc); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return ErrNotFound
		}
		return err
	}
	for _, p := range doc.Packages {
		if p == pkg {
			return nil
		}
	}
	doc.Packages = append(doc.Packages, pkg)
	return s.topics.Put(ctx, doc)
}

// ----- Cascade deletes -----

func (s *DocStore) DeletePackage(ctx context.Context, name string) ([]string, error) {
	if _, err := s.GetPackage(ctx, name); err != nil {
		return nil, err
	}

	versions, err := s.ListVersions(ctx, name)
	if err != nil {
		return nil, err
	}

	var blobKeys []string
	for _, v := range versions {
		keys, err := s.DeleteVersion(ctx, name, v.Version)
		if err != nil {
			return nil, err
		}
		blobKeys = append(blobKeys, keys...)
	}

	if err := s.packages.Delete(ctx, &PackageDoc{Name: name}); err != nil {
		return nil, err
	}

	// Strip topic associations; the topics themselves stay.
	topics, err := s.ListTopics(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range topics {
		kept := t.Packages[:0]
		removed := false
		for _, p := range t.Packages {
			if p == name {
				removed = true
				continue
			}
			kept = append(kept, p)
		}
		if removed {
			doc := &TopicDoc{Slug: t.Slug, Name: t.Name, Description: t.Description, Packages: kept}
			if err := s.topics.Put(ctx, doc); err != nil {
				return nil, err
			}
		}
	}

	return blobKeys, nil
}

func (s *DocStore) DeleteVersion(ctx context.Context, pkg, version string) ([]string, error) {
	v, err := s.GetVersion(ctx, pkg, version)
	if err != nil {
		return nil, err
	}

	var blobKeys []string
	if v.RecipeBlobKey != "" {
		blobKeys = append(blobKeys, v.RecipeBlobKey)
	}

	bins, err := s.ListBinariesForVersion(ctx, pkg, version)
	if err != nil {
		return nil, err
	}

	actions := s.binaries.Actions()
	for _, b := range bins {
		if b.BlobKey != "" {
			blobKeys = append(blobKeys, b.BlobKey)
		}
		if b.CrateBlobKey != "" {
			blobKeys = append(blobKeys, b.CrateBlobKey)
		}
		actions.Delete(&BinaryDoc{PackageID: b.PackageID})
	}
	if err := actions.Do(ctx); err != nil {
		return nil, err
	}

	deps, err := s.ListDependencies(ctx, pkg, version)
	if err != nil {
		return nil, err
	}
	depActions := s.dependencies.Actions()
	for _, d := range deps {
		depActions.Delete(&DependencyDoc{ID: dependencyID(d.Package, d.Version, d.RequiresPackage, d.Type)})
	}
	if err := depActions.Do(ctx); err != nil {
		return nil, err
	}

	if err := s.versions.Delete(ctx, &VersionDoc{ID: versionID(pkg, version)}); err != nil {
		return nil, err
	}

	return blobKeys, nil
}

func (s *DocStore) DeleteBinary(ctx context.Context, packageID string) ([]string, error) {
	b, err := s.GetBinary(ctx, packageID)
	if err != nil {
		return nil, err
	}

	var blobKeys []string
	if b.BlobKey != "" {
		blobKeys = append(blobKeys, b.BlobKey)
	}
	if b.CrateBlobKey != "" {
		blobKeys = append(blobKeys, b.CrateBlobKey)
	}

	if err := s.binaries.Delete(ctx, &BinaryDoc{PackageID: packageID}); err != nil {
		return nil, err
	}
	return blobKeys, nil
}

// ----- Counters -----

func (s *DocStore) IncrementPackageDownloads(ctx context.Context, name string) error {
	err := s.packages.Update(ctx, &PackageDoc{Name: name}, docstore.Mods{
		"download_count": docstore.Increment(1),
	})
	if gcerrors.Code(err) == gcerrors.NotFound {
		return ErrNotFound
	}
	return err
}

func (s *DocStore) IncrementBinaryDownloads(ctx context.Context, packageID string) error {
	err := s.binaries.Update(ctx, &BinaryDoc{PackageID: packageID}, docstore.Mods{
		"download_count": docstore.Increment(1),
	})
	if gcerrors.Code(err) == gcerrors.NotFound {
		return ErrNotFound
	}
	return err
}
