package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/conancrates/conancrates/internal/catalog"
)

// handleSearch answers Conan's search endpoint with "name/version" refs.
func (svc *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	refs, err := svc.reg.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	if refs == nil {
		refs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"results": refs})
}

// handleManifest returns the version manifest: metadata, declared
// dependencies and every binary with its download URL.
func (svc *Service) handleManifest(w http.ResponseWriter, r *http.Request) {
	m, err := svc.reg.Manifest(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleRecipeManifest lists recipe files and their checksums, the way
// Conan clients probe whether a recipe needs re-downloading.
func (svc *Service) handleRecipeManifest(w http.ResponseWriter, r *http.Request) {
	files, err := svc.reg.RecipeFiles(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// handleListBinaries lists the binaries of a version, manifest-shaped.
func (svc *Service) handleListBinaries(w http.ResponseWriter, r *http.Request) {
	m, err := svc.reg.Manifest(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"binaries": m.Binaries})
}

type topicResponse struct {
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Packages    []string `json:"packages"`
}

func (svc *Service) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := svc.reg.Catalog().ListTopics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]topicResponse, 0, len(topics))
	for _, t := range topics {
		out = append(out, topicResponse{Slug: t.Slug, Name: t.Name, Description: t.Description, Packages: t.Packages})
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": out})
}

func (svc *Service) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	t, err := svc.reg.Catalog().GetTopic(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeErrorStatus(w, http.StatusNotFound, "topic not found")
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topicResponse{Slug: t.Slug, Name: t.Name, Description: t.Description, Packages: t.Packages})
}

func (svc *Service) handleDownloadBinary(w http.ResponseWriter, r *http.Request) {
	pkg := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")
	packageID := chi.URLParam(r, "packageID")

	rc, bin, err := svc.reg.DownloadBinary(r.Context(), pkg, version, packageID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s-%s-%s.tar.gz", pkg, version, packageID)))
	if bin.FileSize > 0 {
		w.Header().Set("Content-Length", fmt.Sprint(bin.FileSize))
	}
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("Binary download interrupted", "package_id", packageID, "err", err)
	}
}

func (svc *Service) handleDownloadRecipe(w http.ResponseWriter, r *http.Request) {
	pkg := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")

	rc, err := svc.reg.DownloadRecipe(r.Context(), pkg, version)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/x-python")
	w.Header().Set("Content-Disposition", `attachment; filename="conanfile.py"`)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("Recipe download interrupted", "package", pkg, "version", version, "err", err)
	}
}

func (svc *Service) handleDownloadCrate(w http.ResponseWriter, r *http.Request) {
	pkg := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")
	packageID := chi.URLParam(r, "packageID")

	rc, _, err := svc.reg.DownloadCrate(r.Context(), pkg, version, packageID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s-%s-%s.crate", pkg, version, packageID)))
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("Crate download interrupted", "package_id", packageID, "err", err)
	}
}
