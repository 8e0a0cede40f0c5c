package testutil

import (
	"strings"
	"testing"

	"github.com/spf13/afero"

	"pictor/internal/fstore"
)

// NewMemFiles creates an in-memory file store for tests, returning both the
// backing filesystem (for direct manipulation, e.g. deleting files behind
// the store's back) and the store itself.
func NewMemFiles() (afero.Fs, *fstore.Store) {
	fsys := afero.NewMemMapFs()
	return fsys, fstore.New(fsys)
}

// WriteFile writes content at the given root-relative path, creating parent
// directories as needed.
func WriteFile(t *testing.T, fsys afero.Fs, path, content string) {
	t.Helper()
	if i := strings.LastIndex(path, "/"); i > 0 {
		if err := fsys.MkdirAll(path[:i], 0o755); err != nil {
			t.Fatalf("creating parents of %s: %v", path, err)
		}
	}
	if err := afero.WriteFile(fsys, path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// MkDir creates a directory and its parents.
func MkDir(t *testing.T, fsys afero.Fs, path string) {
	t.Helper()
	if err := fsys.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
}

// Remove deletes the file or directory tree at path.
func Remove(t *testing.T, fsys afero.Fs, path string) {
	t.Helper()
	if err := fsys.RemoveAll(path); err != nil {
		t.Fatalf("removing %s: %v", path, err)
	}
}
