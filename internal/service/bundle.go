package service

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleBundlePreview resolves a bundle without touching any blob and
// returns the plan that a bundle download would produce.
func (svc *Service) handleBundlePreview(w http.ResponseWriter, r *http.Request) {
	plan, err := svc.reg.Preview(r.Context(),
		chi.URLParam(r, "name"), chi.URLParam(r, "version"), platformFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handleBundle streams the bundle archive. Resolution happens before the
// first byte is written, so resolution failures still get a proper
// status; blob failures during streaming degrade individual entries
// inside the archive instead.
func (svc *Service) handleBundle(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "service.handleBundle")
	defer span.End()

	pkg := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s-%s-bundle.zip", pkg, version)))

	if _, err := svc.reg.BuildBundle(ctx, pkg, version, platformFromQuery(r), w); err != nil {
		// Nothing has been streamed yet on resolution errors; the
		// headers above are overridden by the error response.
		w.Header().Del("Content-Disposition")
		writeError(w, err)
	}
}

func (svc *Service) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	if err := svc.reg.DeletePackage(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	if err := svc.reg.DeleteVersion(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "version")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleDeleteBinary(w http.ResponseWriter, r *http.Request) {
	if err := svc.reg.DeleteBinary(r.Context(), chi.URLParam(r, "packageID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
