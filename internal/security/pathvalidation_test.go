package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathWithinDirectoryAccepted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "topology.json"), []byte("{}"), 0o644))

	assert.NoError(t, ValidatePathWithinDirectory(filepath.Join(dir, "topology.json"), dir))
	// not-yet-existing file inside the directory is fine too
	assert.NoError(t, ValidatePathWithinDirectory(filepath.Join(dir, "new", "run.csv"), dir))
}

func TestTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	err := ValidatePathWithinDirectory(filepath.Join(dir, "..", "escape.json"), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}

func TestSymlinkEscapeRejected(t *testing.T) {
	outside := t.TempDir()
	dir := t.TempDir()
	link := filepath.Join(dir, "sneaky")
	require.NoError(t, os.Symlink(outside, link))

	err := ValidatePathWithinDirectory(filepath.Join(link, "model.json"), dir)
	require.Error(t, err)
}

func TestSafeDirItself(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, ValidatePathWithinDirectory(dir, dir))
}
