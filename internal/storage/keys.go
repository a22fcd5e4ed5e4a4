package storage

import "fmt"

// Blob keys are stable and derivable from (package, version, package_id)
// so that re-ingesting the same binary overwrites its blob in place and
// cascade deletes can reconstruct every key from catalog rows alone.

// BinaryKey returns the blob key for a binary archive.
func BinaryKey(pkg, version, packageID string) string {
	return fmt.Sprintf("binaries/%s/%s/%s.tar.gz", pkg, version, packageID)
}

// RecipeKey returns the blob key for a version's recipe file.
func RecipeKey(pkg, version string) string {
	return fmt.Sprintf("recipes/%s/%s/conanfile.py", pkg, version)
}

// CrateKey returns the blob key for a binary's generated crate archive.
func CrateKey(pkg, version, packageID string) string {
	return fmt.Sprintf("crates/%s/%s/%s.crate", pkg, version, packageID)
}
