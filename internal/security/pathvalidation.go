// Package security validates user-supplied file paths. Config files name
// topology and model paths; those must not escape the working tree.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects paths that resolve outside safeDir,
// including escapes via .. components and symlinked parents.
func ValidatePathWithinDirectory(path, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve path %q: %w", path, err)
	}
	absSafe, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("resolve safe directory %q: %w", safeDir, err)
	}

	// Resolve symlinks where the path (or its nearest existing parent)
	// exists, so a symlink inside safeDir cannot point elsewhere.
	canonical := resolveNearest(absPath)
	canonicalSafe := resolveNearest(absSafe)

	rel, err := filepath.Rel(canonicalSafe, canonical)
	if err != nil {
		return fmt.Errorf("relate %q to %q: %w", path, safeDir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes directory %q", path, safeDir)
	}
	return nil
}

// resolveNearest follows symlinks for path, falling back to the nearest
// existing ancestor when path itself does not exist yet.
func resolveNearest(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(resolveNearest(parent), filepath.Base(path))
}
