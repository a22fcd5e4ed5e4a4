package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/conancrates/conancrates/internal/catalog"
	"github.com/conancrates/conancrates/internal/depgraph"
)

// Plan entry types.
const (
	EntryMain       = "main"
	EntryDependency = "dependency"
)

// PlanEntry is one binary in a bundle resolution plan.
type PlanEntry struct {
	Package   string `json:"package"`
	Version   string `json:"version"`
	Type      string `json:"type"`
	PackageID string `json:"package_id"`
	Config    string `json:"config"`
	Size      int64  `json:"size"`
	Checksum  string `json:"checksum,omitempty"`
	// Missing marks graph entries whose binary was never ingested into
	// this catalog. Such entries stay in the plan so the caller sees the
	// full dependency set, but contribute nothing to the bundle.
	Missing bool   `json:"missing,omitempty"`
	Note    string `json:"note,omitempty"`
}

// Plan is the full resolution result for a bundle request. FileCount and
// TotalSize cover only entries that will actually be packaged.
type Plan struct {
	Package          string           `json:"package"`
	Version          string           `json:"version"`
	Platform         catalog.Platform `json:"platform"`
	Files            []*PlanEntry     `json:"files"`
	TotalSize        int64            `json:"total_size"`
	FileCount        int              `json:"file_count"`
	ResolutionMethod string           `json:"resolution_method"`
}

// ConfigString renders a platform the way binary listings display it.
func ConfigString(p catalog.Platform) string {
	var parts []string
	if p.OS != "" {
		parts = append(parts, "OS: "+p.OS)
	}
	if p.Arch != "" {
		parts = append(parts, "Arch: "+p.Arch)
	}
	if p.Compiler != "" {
		parts = append(parts, strings.TrimSpace("Compiler: "+p.Compiler+" "+p.CompilerVersion))
	}
	if p.BuildType != "" {
		parts = append(parts, "Build: "+p.BuildType)
	}
	return strings.Join(parts, ", ")
}

// Preview resolves a bundle without touching any blob. It exists so a
// caller can inspect the exact bundle contents before committing to the
// download; it mutates nothing, not even download counters.
func (r *Registry) Preview(ctx context.Context, pkg, version string, platform catalog.Platform) (*Plan, error) {
	ctx, span := tracer.Start(ctx, "registry.Preview", trace.WithAttributes(
		attribute.String("package", pkg),
		attribute.String("version", version),
	))
	defer span.End()

	plan, _, err := r.resolve(ctx, pkg, version, platform)
	return plan, err
}

// BuildBundle resolves a bundle and streams it as a zip archive into w:
// each included binary in its own directory alongside its recipe, plus a
// machine-readable bundle_info.json and a human-readable README.txt.
// Blobs are streamed entry by entry; a blob read failure degrades that
// entry to an error note instead of aborting the archive. The main
// binary's download counters are incremented exactly once per call.
func (r *Registry) BuildBundle(ctx context.Context, pkg, version string, platform catalog.Platform, w io.Writer) (*Plan, error) {
	ctx, span := tracer.Start(ctx, "registry.BuildBundle", trace.WithAttributes(
		attribute.String("package", pkg),
		attribute.String("version", version),
	))
	defer span.End()

	plan, bins, err := r.resolve(ctx, pkg, version, platform)
	if err != nil {
		return nil, err
	}

	r.countDownload(ctx, bins[plan.Files[0].PackageID])

	zw := zip.NewWriter(w)

	for _, entry := range plan.Files {
		if entry.Missing {
			continue
		}
		if err := r.writeBundleEntry(ctx, zw, entry, bins[entry.PackageID], plan); err != nil {
			zw.Close()
			return nil, err
		}
	}

	// The manifest goes in last so it reflects any per-entry
	// degradation that happened while streaming blobs.
	info, err := zw.Create("bundle_info.json")
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(info)
	enc.SetIndent("", "  ")
	if err := enc.Encode(plan); err != nil {
		return nil, err
	}

	readme, err := zw.Create("README.txt")
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(readme, bundleReadme(plan)); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return plan, nil
}

// writeBundleEntry adds one entry's directory to the archive: the recipe
// when the catalog has it, then the binary blob streamed straight from
// the blob store.
func (r *Registry) writeBundleEntry(ctx context.Context, zw *zip.Writer, entry *PlanEntry, bin *catalog.BinaryPackage, plan *Plan) error {
	dir := entry.Package + "-" + entry.Version

	if v, err := r.cat.GetVersion(ctx, entry.Package, entry.Version); err == nil && v.RecipeContent != "" {
		fw, err := zw.Create(dir + "/conanfile.py")
		if err != nil {
			return err
		}
		if _, err := io.WriteString(fw, v.RecipeContent); err != nil {
			return err
		}
	}

	rc, err := r.blobs.Get(ctx, bin.BlobKey)
	if err != nil {
		return r.degradeEntry(zw, entry, plan, dir, fmt.Errorf("open binary blob: %w", err))
	}
	defer rc.Close()

	name := fmt.Sprintf("%s/%s-%s-%s.tar.gz", dir, entry.Package, entry.Version, entry.PackageID)
	fw, err := zw.Create(name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, rc); err != nil {
		// The zip stream already carries partial bytes for this file;
		// the manifest note is what tells the consumer not to trust it.
		return r.degradeEntry(zw, entry, plan, dir, fmt.Errorf("stream binary blob: %w", err))
	}
	return nil
}

// degradeEntry records a blob read failure for one entry: an ERROR.txt in
// the entry's directory plus a note and accounting fixup in the plan. The
// bundle as a whole continues, mirroring how never-ingested dependencies
// are surfaced rather than fatal.
func (r *Registry) degradeEntry(zw *zip.Writer, entry *PlanEntry, plan *Plan, dir string, cause error) error {
	slog.Warn("bundle entry degraded", "package_id", entry.PackageID, "err", cause)

	entry.Note = "binary unavailable: " + cause.Error()
	plan.FileCount--
	plan.TotalSize -= entry.Size

	fw, err := zw.Create(dir + "/ERROR.txt")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(fw, "Package: %s/%s\nBinary ID: %s\nConfiguration: %s\n\nError: %v\n",
		entry.Package, entry.Version, entry.PackageID, entry.Config, cause)
	return err
}

// resolve is the shared core of Preview and BuildBundle: find the binary
// matching the platform, replay its stored graph against the catalog, and
// produce the plan. The returned map holds the catalog rows of every
// non-missing entry, keyed by package_id.
func (r *Registry) resolve(ctx context.Context, pkg, version string, platform catalog.Platform) (*Plan, map[string]*catalog.BinaryPackage, error) {
	if _, err := r.cat.GetPackage(ctx, pkg); err != nil {
		return nil, nil, notFound(err, "package %s", pkg)
	}
	if _, err := r.cat.GetVersion(ctx, pkg, version); err != nil {
		return nil, nil, notFound(err, "version %s/%s", pkg, version)
	}

	main, err := r.cat.FindBinaryByConfig(ctx, pkg, version, platform)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			return nil, nil, err
		}
		all, listErr := r.cat.ListBinariesForVersion(ctx, pkg, version)
		if listErr != nil {
			return nil, nil, listErr
		}
		return nil, nil, &NoMatchingBinaryError{
			Package:   pkg,
			Version:   version,
			Platform:  platform,
			Available: diagnose(platform, all),
		}
	}

	plan := &Plan{
		Package:          pkg,
		Version:          version,
		Platform:         platform,
		Files:            []*PlanEntry{},
		ResolutionMethod: "stored_graph",
	}
	bins := map[string]*catalog.BinaryPackage{}

	addEntry := func(b *catalog.BinaryPackage, typ string) {
		plan.Files = append(plan.Files, &PlanEntry{
			Package:   b.Package,
			Version:   b.Version,
			Type:      typ,
			PackageID: b.PackageID,
			Config:    ConfigString(b.Platform),
			Size:      b.FileSize,
			Checksum:  b.SHA256,
		})
		plan.TotalSize += b.FileSize
		plan.FileCount++
		bins[b.PackageID] = b
	}

	addEntry(main, EntryMain)

	if main.DependencyGraph == "" {
		return plan, bins, nil
	}

	graph, err := depgraph.Parse([]byte(main.DependencyGraph))
	if err != nil {
		// A stored graph that no longer parses degrades to "no known
		// dependencies"; the main binary is still servable.
		slog.WarnContext(ctx, "stored dependency graph unreadable",
			"package", pkg, "version", version, "package_id", main.PackageID, "err", err)
		return plan, bins, nil
	}

	seen := map[string]bool{main.PackageID: true}
	for _, ref := range depgraph.Flatten(graph) {
		// A malformed graph can repeat a binary id; only the first
		// occurrence gets a blob in the archive.
		if seen[ref.PackageID] {
			continue
		}
		seen[ref.PackageID] = true

		dep, err := r.cat.GetBinary(ctx, ref.PackageID)
		switch {
		case err == nil && dep.Package == ref.Name && dep.Version == ref.Version:
			addEntry(dep, EntryDependency)
		case err == nil || errors.Is(err, catalog.ErrNotFound):
			// Never ingested (or the id now belongs to something else):
			// surface it, don't fail the bundle.
			plan.Files = append(plan.Files, &PlanEntry{
				Package:   ref.Name,
				Version:   ref.Version,
				Type:      EntryDependency,
				PackageID: ref.PackageID,
				Config:    "Unknown",
				Missing:   true,
				Note: fmt.Sprintf("missing dependency: %s/%s with package_id %s",
					ref.Name, ref.Version, ref.PackageID),
			})
		default:
			return nil, nil, err
		}
	}

	return plan, bins, nil
}

func bundleReadme(plan *Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s/%s Bundle\n\n", plan.Package, plan.Version)
	fmt.Fprintf(&b, "This bundle contains %s version %s and its dependencies for %s.\n\n",
		plan.Package, plan.Version, platformString(plan.Platform))
	fmt.Fprintf(&b, "Dependencies resolved using: %s\n\n## Contents\n\n", plan.ResolutionMethod)
	for _, f := range plan.Files {
		note := ""
		if f.Note != "" {
			note = " - " + f.Note
		}
		fmt.Fprintf(&b, "- %s/%s (%s)%s\n", f.Package, f.Version, f.Type, note)
	}
	b.WriteString("\n## Installation\n\nExtract this bundle and point your project at the package directories.\n")
	return b.String()
}
