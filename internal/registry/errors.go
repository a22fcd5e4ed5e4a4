package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/conancrates/conancrates/internal/catalog"
)

var (
	// ErrNotFound: package, version or binary does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMissingPayload: a required recipe or binary payload was absent
	// from an ingest call.
	ErrMissingPayload = errors.New("missing payload")
	// ErrBlobIO: the underlying blob store failed. During ingestion this
	// always surfaces before any catalog write.
	ErrBlobIO = errors.New("blob storage failure")
)

// Mismatch annotates one configuration dimension of an existing binary
// that differs from a request.
type Mismatch struct {
	Dimension string `json:"dimension"`
	Requested string `json:"requested"`
	Available string `json:"available"`
}

// BinaryDiagnostic describes one existing binary of the requested
// package/version and how its configuration differs from the request.
type BinaryDiagnostic struct {
	PackageID  string           `json:"package_id"`
	Platform   catalog.Platform `json:"platform"`
	Mismatches []Mismatch       `json:"mismatches"`
}

// NoMatchingBinaryError reports that no binary matches the requested
// platform, with a diagnostic listing of every binary that does exist for
// the package/version so the caller can find the nearest configuration.
type NoMatchingBinaryError struct {
	Package   string
	Version   string
	Platform  catalog.Platform
	Available []BinaryDiagnostic
}

func (e *NoMatchingBinaryError) Error() string {
	return fmt.Sprintf("no binary found for %s/%s with settings: %s (%d other configurations available)",
		e.Package, e.Version, platformString(e.Platform), len(e.Available))
}

func platformString(p catalog.Platform) string {
	return strings.Join([]string{p.OS, p.Arch, p.Compiler + "-" + p.CompilerVersion, p.BuildType}, "/")
}

// diagnose compares each existing binary against the requested platform.
// Only dimensions the caller actually supplied count as mismatches.
func diagnose(req catalog.Platform, bins []*catalog.BinaryPackage) []BinaryDiagnostic {
	out := make([]BinaryDiagnostic, 0, len(bins))
	for _, b := range bins {
		d := BinaryDiagnostic{PackageID: b.PackageID, Platform: b.Platform}
		dims := []struct {
			name      string
			requested string
			available string
		}{
			{"os", req.OS, b.Platform.OS},
			{"arch", req.Arch, b.Platform.Arch},
			{"compiler", req.Compiler, b.Platform.Compiler},
			{"compiler_version", req.CompilerVersion, b.Platform.CompilerVersion},
			{"build_type", req.BuildType, b.Platform.BuildType},
		}
		for _, dim := range dims {
			if dim.requested != "" && dim.requested != dim.available {
				d.Mismatches = append(d.Mismatches, Mismatch{
					Dimension: dim.name,
					Requested: dim.requested,
					Available: dim.available,
				})
			}
		}
		out = append(out, d)
	}
	return out
}
