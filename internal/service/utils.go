package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/conancrates/conancrates/internal/catalog"
	"github.com/conancrates/conancrates/internal/registry"
)

const requestIDHeader = "X-Request-Id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

func writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps registry errors onto HTTP statuses. A request for a
// binary configuration that does not exist gets a diagnostic listing of
// the configurations that do.
func writeError(w http.ResponseWriter, err error) {
	var nmb *registry.NoMatchingBinaryError
	switch {
	case errors.As(err, &nmb):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":                    nmb.Error(),
			"available_configurations": nmb.Available,
		})
	case errors.Is(err, registry.ErrNotFound):
		writeErrorStatus(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrMissingPayload):
		writeErrorStatus(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrBlobIO):
		writeErrorStatus(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("Internal error", "err", err)
		writeErrorStatus(w, http.StatusInternalServerError, "internal error")
	}
}

// platformFromQuery reads configuration dimensions from query
// parameters. Omitted dimensions take the registry defaults; an explicit
// "*" leaves the dimension unconstrained so it matches any binary.
func platformFromQuery(r *http.Request) catalog.Platform {
	p := registry.DefaultPlatform()
	q := r.URL.Query()
	for _, dim := range []struct {
		name string
		dst  *string
	}{
		{"os", &p.OS},
		{"arch", &p.Arch},
		{"compiler", &p.Compiler},
		{"compiler_version", &p.CompilerVersion},
		{"build_type", &p.BuildType},
	} {
		if !q.Has(dim.name) {
			continue
		}
		if v := q.Get(dim.name); v == "*" {
			*dim.dst = ""
		} else {
			*dim.dst = v
		}
	}
	return p
}
