package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/conancrates/conancrates/internal/catalog"
	"github.com/conancrates/conancrates/internal/depgraph"
	"github.com/conancrates/conancrates/internal/storage"
)

// IngestRequest carries one upload: recipe, binary, and whatever the
// client captured from the external resolver at build time.
type IngestRequest struct {
	PackageName string
	Version     string

	// Recipe is the conanfile.py content. Required.
	Recipe []byte
	// Binary is the binary archive payload, streamed. Required.
	Binary io.Reader

	// PackageID is the resolver-assigned binary identifier. Optional:
	// when absent, a deterministic id is derived from the configuration
	// dimensions. Such an id can never be joined against other
	// packages' stored graphs, so the result flags it.
	PackageID string
	// DependencyGraph is the resolver's serialized graph output, stored
	// verbatim. Optional.
	DependencyGraph []byte

	// Platform overrides the settings scraped from the binary archive.
	// Optional; zero dimensions fall back to extracted or default values.
	Platform catalog.Platform
	// Options are free-form build options for the binary.
	Options map[string]string

	// ResolverVersion is the resolver's version string observed by the
	// client at upload time.
	ResolverVersion string
	// RecipeRevision is the client-supplied recipe revision identifier.
	RecipeRevision string
}

// IDSource values for IngestResult.
const (
	IDSourceResolver  = "resolver"
	IDSourceGenerated = "generated"
)

// IngestResult reports the stored binary's identity back to the uploader.
type IngestResult struct {
	PackageID string `json:"package_id"`
	SHA256    string `json:"sha256"`
	Size      int64  `json:"size"`
	// IDSource is "resolver" for client-supplied ids and "generated"
	// for server-derived fallback ids, which cannot participate in
	// bundle resolution as dependency targets.
	IDSource string `json:"id_source"`
}

// Ingest stores one recipe + binary upload: package and version rows are
// upserted, blobs are written, and the checksum is computed while the
// binary streams into the blob store. The binary row is the only catalog
// row pointing at the binary blob and is committed strictly after the
// blob write succeeds.
func (r *Registry) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	ctx, span := tracer.Start(ctx, "registry.Ingest", trace.WithAttributes(
		attribute.String("package", req.PackageName),
		attribute.String("version", req.Version),
	))
	defer span.End()

	if req.PackageName == "" || req.Version == "" {
		return nil, fmt.Errorf("package name and version are required: %w", ErrMissingPayload)
	}
	if len(req.Recipe) == 0 {
		return nil, fmt.Errorf("recipe payload: %w", ErrMissingPayload)
	}
	if req.Binary == nil {
		return nil, fmt.Errorf("binary payload: %w", ErrMissingPayload)
	}

	if err := r.StoreRecipe(ctx, req.PackageName, req.Version, req.Recipe, req.RecipeRevision, req.ResolverVersion); err != nil {
		return nil, err
	}

	return r.StoreBinary(ctx, &BinaryUpload{
		PackageName:     req.PackageName,
		Version:         req.Version,
		PackageID:       req.PackageID,
		Binary:          req.Binary,
		DependencyGraph: req.DependencyGraph,
		Platform:        req.Platform,
		Options:         req.Options,
	})
}

// StoreRecipe is the recipe half of ingestion: it upserts the package
// row (never blanking existing metadata), writes the recipe blob, upserts
// the version row and records declared dependencies and topics. The
// protocol adapter also exposes it standalone for recipe-only uploads.
func (r *Registry) StoreRecipe(ctx context.Context, pkg, version string, recipe []byte, recipeRevision, resolverVersion string) error {
	if pkg == "" || version == "" {
		return fmt.Errorf("package name and version are required: %w", ErrMissingPayload)
	}
	if len(recipe) == 0 {
		return fmt.Errorf("recipe payload: %w", ErrMissingPayload)
	}

	md := ParseRecipe(string(recipe))

	if err := r.cat.UpsertPackage(ctx, &catalog.Package{
		Name:        pkg,
		Description: md.Description,
		License:     md.License,
		Homepage:    md.Homepage,
		Author:      md.Author,
		Topics:      md.Topics,
	}); err != nil {
		return err
	}

	recipeKey := storage.RecipeKey(pkg, version)
	if _, err := r.blobs.Put(ctx, recipeKey, bytes.NewReader(recipe)); err != nil {
		return fmt.Errorf("%w: storing recipe: %v", ErrBlobIO, err)
	}

	if err := r.cat.UpsertVersion(ctx, &catalog.PackageVersion{
		Package:         pkg,
		Version:         version,
		RecipeRevision:  recipeRevision,
		RecipeContent:   string(recipe),
		RecipeBlobKey:   recipeKey,
		ResolverVersion: resolverVersion,
	}); err != nil {
		return err
	}

	if err := r.recordDeclaredDeps(ctx, pkg, version, md); err != nil {
		return err
	}

	return r.recordTopics(ctx, pkg, md)
}

// BinaryUpload carries a standalone binary upload for a version whose
// recipe is already stored.
type BinaryUpload struct {
	PackageName     string
	Version         string
	PackageID       string
	Binary          io.Reader
	DependencyGraph []byte
	Platform        catalog.Platform
	Options         map[string]string
}

// StoreBinary is the binary half of ingestion: it streams the payload
// into the blob store while hashing it and commits the binary row
// strictly after the blob write succeeds. The version row must already
// exist.
func (r *Registry) StoreBinary(ctx context.Context, req *BinaryUpload) (*IngestResult, error) {
	if req.PackageName == "" || req.Version == "" {
		return nil, fmt.Errorf("package name and version are required: %w", ErrMissingPayload)
	}
	if req.Binary == nil {
		return nil, fmt.Errorf("binary payload: %w", ErrMissingPayload)
	}
	if _, err := r.cat.GetVersion(ctx, req.PackageName, req.Version); err != nil {
		return nil, notFound(err, "version %s/%s", req.PackageName, req.Version)
	}

	platform := req.Platform
	if platform == (catalog.Platform{}) {
		platform = DefaultPlatform()
	}

	packageID := req.PackageID
	idSource := IDSourceResolver
	if packageID == "" {
		packageID = fallbackPackageID(platform)
		idSource = IDSourceGenerated
		slog.WarnContext(ctx, "no resolver-assigned package_id supplied; derived id cannot serve as a dependency target",
			"package", req.PackageName, "version", req.Version, "package_id", packageID)
	}

	// Stream the binary into the blob store, hashing as it passes.
	// The checksum never sees the payload twice and the payload is
	// never held in memory whole.
	h := sha256.New()
	binaryKey := storage.BinaryKey(req.PackageName, req.Version, packageID)
	size, err := r.blobs.Put(ctx, binaryKey, io.TeeReader(req.Binary, h))
	if err != nil {
		// The catalog has no row pointing at this blob yet, so the
		// failed write leaves no dangling reference.
		return nil, fmt.Errorf("%w: storing binary: %v", ErrBlobIO, err)
	}
	checksum := hex.EncodeToString(h.Sum(nil))

	if err := r.cat.UpsertBinary(ctx, &catalog.BinaryPackage{
		PackageID:       packageID,
		Package:         req.PackageName,
		Version:         req.Version,
		Platform:        platform,
		Options:         req.Options,
		BlobKey:         binaryKey,
		FileSize:        size,
		SHA256:          checksum,
		DependencyGraph: string(req.DependencyGraph),
		GeneratedID:     idSource == IDSourceGenerated,
	}); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "ingested binary",
		"package", req.PackageName, "version", req.Version,
		"package_id", packageID, "size", size, "id_source", idSource)

	return &IngestResult{
		PackageID: packageID,
		SHA256:    checksum,
		Size:      size,
		IDSource:  idSource,
	}, nil
}

// StoreCrate attaches a generated crate archive to an existing binary.
func (r *Registry) StoreCrate(ctx context.Context, pkg, version, packageID string, crate io.Reader) (int64, error) {
	b, err := r.binaryForVersion(ctx, pkg, version, packageID)
	if err != nil {
		return 0, err
	}
	key := storage.CrateKey(pkg, version, packageID)
	size, err := r.blobs.Put(ctx, key, crate)
	if err != nil {
		return 0, fmt.Errorf("%w: storing crate: %v", ErrBlobIO, err)
	}
	b.CrateBlobKey = key
	if err := r.cat.UpsertBinary(ctx, b); err != nil {
		return 0, err
	}
	return size, nil
}

// recordDeclaredDeps turns the recipe's requirement lists into Dependency
// rows, auto-creating placeholder packages and versions for requirements
// nobody has uploaded yet. These rows are descriptive; bundle resolution
// never reads them.
func (r *Registry) recordDeclaredDeps(ctx context.Context, pkg, version string, md RecipeMetadata) error {
	kinds := []struct {
		typ  string
		refs []string
	}{
		{catalog.DepRequires, md.Requires},
		{catalog.DepBuildRequires, md.BuildRequires},
		{catalog.DepTestRequires, md.TestRequires},
	}
	for _, k := range kinds {
		for _, ref := range k.refs {
			depName, depVersion, ok := depgraph.SplitRef(ref)
			if !ok {
				continue
			}
			if err := r.cat.UpsertPackage(ctx, &catalog.Package{Name: depName}); err != nil {
				return err
			}
			// Placeholder version rows must not clobber a recipe some
			// earlier upload already stored.
			if _, err := r.cat.GetVersion(ctx, depName, depVersion); errors.Is(err, catalog.ErrNotFound) {
				if err := r.cat.UpsertVersion(ctx, &catalog.PackageVersion{Package: depName, Version: depVersion}); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			if err := r.cat.UpsertDependency(ctx, &catalog.Dependency{
				Package:            pkg,
				Version:            version,
				RequiresPackage:    depName,
				VersionRequirement: depVersion,
				Type:               k.typ,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordTopics tags the package with the recipe's topics, creating topic
// rows the first time a topic is seen.
func (r *Registry) recordTopics(ctx context.Context, pkg string, md RecipeMetadata) error {
	for _, topic := range strings.Split(md.Topics, ",") {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		slug := slugify(topic)
		err := r.cat.AddPackageToTopic(ctx, slug, pkg)
		if err == nil {
			continue
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			return err
		}
		if err := r.cat.UpsertTopic(ctx, &catalog.Topic{
			Slug:     slug,
			Name:     topic,
			Packages: []string{pkg},
		}); err != nil {
			return err
		}
	}
	return nil
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '+':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// fallbackPackageID derives a deterministic identifier from the
// configuration dimensions for uploads that carry no resolver-assigned
// id. It deliberately shares no collision domain with resolver ids.
func fallbackPackageID(p catalog.Platform) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		p.OS, p.Arch, p.Compiler, p.CompilerVersion, p.BuildType,
	}, "-")))
	return hex.EncodeToString(h[:])[:16]
}
