package pictor

import (
	"io"
	"time"
)

// SortMode orders directory listings.
type SortMode string

const (
	SortByName  SortMode = "name"
	SortByMTime SortMode = "mtime"
	SortBySize  SortMode = "size"
)

// ListOptions control a directory listing.
type ListOptions struct {
	IncludeFolders bool
	Sort           SortMode
	Reverse        bool
	Offset         int
	Limit          int // 0 means no limit
}

// ListEntry is one member of a directory listing.
type ListEntry struct {
	Name    string // base name
	Path    string // normalized root-relative path
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// FileStore performs physical file operations under the media root. All
// methods take normalized root-relative paths that have already passed
// through the Resolver; the store itself performs no path validation.
type FileStore interface {
	// FileExists reports whether a regular file exists at path.
	FileExists(path string) (bool, error)

	// DirExists reports whether a directory exists at path.
	DirExists(path string) (bool, error)

	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)

	// Stat returns size and modification time for a path.
	Stat(path string) (ListEntry, error)

	// Write stores content at path. Parent directories are created when
	// createParents is set. Writing over an existing file fails unless
	// overwrite is set.
	Write(path string, content io.Reader, createParents, overwrite bool) error

	// Delete removes the file at path. Deleting an absent file is a
	// no-op.
	Delete(path string) error

	// DeleteDir removes the directory at path and, when recursive, its
	// whole subtree. Deleting an absent directory is a no-op.
	DeleteDir(path string, recursive bool) error

	// MakeDirs creates the directory at path and any missing parents.
	// Existing directories are tolerated, so concurrent creators do not
	// fail.
	MakeDirs(path string) error

	// Copy duplicates src at dst, files and directories alike, preserving
	// modification times where the platform allows.
	Copy(src, dst string) error

	// Move renames src to dst, files and directories alike. When a
	// rename is not possible it falls back to copy and delete, preserving
	// modification times where the platform allows.
	Move(src, dst string) error

	// List returns the entries of the directory at path.
	List(path string, opts ListOptions) ([]ListEntry, error)
}
