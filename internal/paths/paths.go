// Package paths normalizes file paths between the manifest/archive wire
// form (forward slashes) and the platform form.
package paths

import (
	"path/filepath"
	"strings"
)

// Normalize converts a path to forward slashes for storage in manifests and
// resume-state records.
func Normalize(p string) string {
	return strings.ReplaceAll(filepath.Clean(p), string(filepath.Separator), "/")
}

// Denormalize converts a forward-slash path to platform-specific separators
func Denormalize(p string) string {
	return strings.ReplaceAll(p, "/", string(filepath.Separator))
}

// CleanLower returns a cleaned, lowercase path for case-insensitive
// comparison.
func CleanLower(p string) string {
	return strings.ToLower(filepath.Clean(p))
}
