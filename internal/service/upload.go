package service

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/conancrates/conancrates/internal/registry"
)

// maxRecipeSize bounds what is read into memory per upload; the binary
// payload itself is streamed and never buffered whole.
const maxRecipeSize = 4 << 20

// handleUpload ingests one recipe + binary pair from a multipart form.
//
// Form fields: name, version, package_id, resolver_version,
// recipe_revision and the configuration dimensions (os, arch, compiler,
// compiler_version, build_type). Files: "recipe" (conanfile.py),
// "binary" (.tar.gz) and optionally "dependency_graph" (resolver JSON
// output, also accepted as a plain field). Dimensions left out of the
// form are read from the archive's conaninfo.txt.
func (svc *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "service.handleUpload")
	defer span.End()

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	recipeFile, _, err := r.FormFile("recipe")
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "recipe file is required")
		return
	}
	defer recipeFile.Close()
	recipe, err := io.ReadAll(io.LimitReader(recipeFile, maxRecipeSize))
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "failed to read recipe: "+err.Error())
		return
	}

	binFile, _, err := r.FormFile("binary")
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "binary file is required")
		return
	}
	defer binFile.Close()

	// Settings recorded inside the archive are the baseline; explicit
	// form fields override them.
	platform, options := registry.ExtractSettings(binFile)
	if _, err := binFile.Seek(0, io.SeekStart); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "failed to rewind binary: "+err.Error())
		return
	}
	for _, dim := range []struct {
		name string
		dst  *string
	}{
		{"os", &platform.OS},
		{"arch", &platform.Arch},
		{"compiler", &platform.Compiler},
		{"compiler_version", &platform.CompilerVersion},
		{"build_type", &platform.BuildType},
	} {
		if v := r.FormValue(dim.name); v != "" {
			*dim.dst = v
		}
	}

	graph := []byte(r.FormValue("dependency_graph"))
	if gf, _, err := r.FormFile("dependency_graph"); err == nil {
		defer gf.Close()
		graph, err = io.ReadAll(gf)
		if err != nil {
			writeErrorStatus(w, http.StatusBadRequest, "failed to read dependency graph: "+err.Error())
			return
		}
	}

	name := r.FormValue("name")
	version := r.FormValue("version")
	if name == "" || version == "" {
		// Fall back to what the recipe itself declares.
		md := registry.ParseRecipe(string(recipe))
		if name == "" {
			name = md.Name
		}
		if version == "" {
			version = md.Version
		}
	}

	res, err := svc.reg.Ingest(ctx, &registry.IngestRequest{
		PackageName:     name,
		Version:         version,
		Recipe:          recipe,
		Binary:          binFile,
		PackageID:       r.FormValue("package_id"),
		DependencyGraph: graph,
		Platform:        platform,
		Options:         options,
		ResolverVersion: r.FormValue("resolver_version"),
		RecipeRevision:  r.FormValue("recipe_revision"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// handleUploadRecipe stores a recipe on its own, creating the package
// and version rows. The request body is the raw conanfile.py.
func (svc *Service) handleUploadRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, err := io.ReadAll(io.LimitReader(r.Body, maxRecipeSize))
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "failed to read recipe: "+err.Error())
		return
	}

	q := r.URL.Query()
	err = svc.reg.StoreRecipe(r.Context(),
		chi.URLParam(r, "name"), chi.URLParam(r, "version"),
		recipe, q.Get("recipe_revision"), q.Get("resolver_version"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

// handleUploadBinary stores a binary on its own for a version whose
// recipe was uploaded before. The request body is the raw .tar.gz;
// configuration dimensions come from query parameters, falling back to
// the defaults.
func (svc *Service) handleUploadBinary(w http.ResponseWriter, r *http.Request) {
	res, err := svc.reg.StoreBinary(r.Context(), &registry.BinaryUpload{
		PackageName: chi.URLParam(r, "name"),
		Version:     chi.URLParam(r, "version"),
		PackageID:   chi.URLParam(r, "packageID"),
		Binary:      r.Body,
		Platform:    platformFromQuery(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleUploadCrate attaches a generated crate archive to an existing
// binary.
func (svc *Service) handleUploadCrate(w http.ResponseWriter, r *http.Request) {
	pkg := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")
	packageID := chi.URLParam(r, "packageID")

	size, err := svc.reg.StoreCrate(r.Context(), pkg, version, packageID, r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"package_id": packageID,
		"size":       size,
	})
}
