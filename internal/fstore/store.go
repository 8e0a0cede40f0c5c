// Package fstore implements the physical file store over an afero
// filesystem. Production wires it to the OS filesystem rooted at the media
// root; tests use an in-memory filesystem.
package fstore

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"pictor/internal/pictor"
)

// Store performs file operations below a fixed root. Paths are the
// normalized root-relative paths produced by the resolver; the backing
// filesystem is rooted at the media root, so even a path that skipped
// validation cannot reach outside it.
type Store struct {
	fs afero.Fs
}

var _ pictor.FileStore = (*Store)(nil)

// New creates a Store over the given filesystem.
func New(fsys afero.Fs) *Store {
	return &Store{fs: fsys}
}

// NewAtRoot creates a Store over the host directory at root.
func NewAtRoot(root string) *Store {
	return New(afero.NewBasePathFs(afero.NewOsFs(), root))
}

// FileExists reports whether a regular file exists at path. Symlinks and
// special files do not count.
func (s *Store) FileExists(path string) (bool, error) {
	info, err := s.lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("statting %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}

// DirExists reports whether a directory exists at path.
func (s *Store) DirExists(path string) (bool, error) {
	info, err := s.lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("statting %s: %w", path, err)
	}
	return info.IsDir(), nil
}

// Open opens a file for reading.
func (s *Store) Open(path string) (io.ReadCloser, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pictor.E(pictor.CodeNotFound, "file does not exist", path)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

// Stat returns a listing entry for the path.
func (s *Store) Stat(path string) (pictor.ListEntry, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pictor.ListEntry{}, pictor.E(pictor.CodeNotFound, "path does not exist", path)
		}
		return pictor.ListEntry{}, fmt.Errorf("statting %s: %w", path, err)
	}
	return pictor.ListEntry{
		Name:    pictor.BaseName(path),
		Path:    path,
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Write stores content at path.
func (s *Store) Write(path string, content io.Reader, createParents, overwrite bool) error {
	if !overwrite {
		exists, err := s.FileExists(path)
		if err != nil {
			return err
		}
		if exists {
			return pictor.E(pictor.CodeExists, "file already exists", path)
		}
	}
	if createParents {
		if parent := pictor.ParentPath(path); parent != "" {
			if err := s.fs.MkdirAll(parent, 0o755); err != nil {
				return fmt.Errorf("creating parent directories of %s: %w", path, err)
			}
		}
	}
	if err := afero.WriteReader(s.fs, path, content); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Delete removes the file at path. Absent files are a no-op.
func (s *Store) Delete(path string) error {
	info, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("statting %s: %w", path, err)
	}
	if info.IsDir() {
		return pictor.E(pictor.CodeConflict, "path is a directory", path)
	}
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// DeleteDir removes the directory at path. Absent directories are a no-op.
// Without recursive, a non-empty directory fails.
func (s *Store) DeleteDir(path string, recursive bool) error {
	info, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("statting %s: %w", path, err)
	}
	if !info.IsDir() {
		return pictor.E(pictor.CodeConflict, "path is not a directory", path)
	}
	if recursive {
		if err := s.fs.RemoveAll(path); err != nil {
			return fmt.Errorf("removing directory tree %s: %w", path, err)
		}
		return nil
	}
	if err := s.fs.Remove(path); err != nil {
		return fmt.Errorf("removing directory %s: %w", path, err)
	}
	return nil
}

// MakeDirs creates the directory at path and missing parents. Existing
// directories are tolerated.
func (s *Store) MakeDirs(path string) error {
	if err := s.fs.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	return nil
}

// Copy duplicates src at dst with modification times preserved. The
// destination's parent must already exist.
func (s *Store) Copy(src, dst string) error {
	info, err := s.fs.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return pictor.E(pictor.CodeNotFound, "source does not exist", src)
		}
		return fmt.Errorf("statting %s: %w", src, err)
	}
	if info.IsDir() {
		return s.copyTree(src, dst)
	}
	return s.copyFile(src, dst, info)
}

// Move renames src to dst. When the backend cannot rename (cross-device
// moves, for instance) it falls back to copying with modification times
// preserved, then deletes the source.
func (s *Store) Move(src, dst string) error {
	if err := s.fs.Rename(src, dst); err == nil {
		return nil
	}
	info, err := s.fs.Stat(src)
	if err != nil {
		return fmt.Errorf("statting %s: %w", src, err)
	}
	if info.IsDir() {
		if err := s.copyTree(src, dst); err != nil {
			return err
		}
		if err := s.fs.RemoveAll(src); err != nil {
			return fmt.Errorf("removing moved directory %s: %w", src, err)
		}
		return nil
	}
	if err := s.copyFile(src, dst, info); err != nil {
		return err
	}
	if err := s.fs.Remove(src); err != nil {
		return fmt.Errorf("removing moved file %s: %w", src, err)
	}
	return nil
}

// List returns the entries of the directory at path.
func (s *Store) List(path string, opts pictor.ListOptions) ([]pictor.ListEntry, error) {
	infos, err := afero.ReadDir(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pictor.E(pictor.CodeNotFound, "folder does not exist", path)
		}
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}

	entries := make([]pictor.ListEntry, 0, len(infos))
	for _, info := range infos {
		// Hidden entries are invisible to listings.
		if strings.HasPrefix(info.Name(), ".") {
			continue
		}
		if info.IsDir() && !opts.IncludeFolders {
			continue
		}
		entries = append(entries, pictor.ListEntry{
			Name:    info.Name(),
			Path:    pictor.JoinPath(path, info.Name()),
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	switch opts.Sort {
	case pictor.SortByMTime:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].ModTime.Before(entries[j].ModTime) })
	case pictor.SortBySize:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Size < entries[j].Size })
	default:
		// ReadDir already sorts by name.
	}
	if opts.Reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return []pictor.ListEntry{}, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// lstat prefers Lstat when the backend supports it, so symlinks are seen as
// symlinks instead of their targets.
func (s *Store) lstat(path string) (os.FileInfo, error) {
	if lst, ok := s.fs.(afero.Lstater); ok {
		info, lstatCalled, err := lst.LstatIfPossible(path)
		if err != nil || lstatCalled {
			return info, err
		}
	}
	return s.fs.Stat(path)
}

func (s *Store) copyFile(src, dst string, info fs.FileInfo) error {
	in, err := s.fs.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := s.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dst, err)
	}
	if err := s.fs.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("preserving times on %s: %w", dst, err)
	}
	return nil
}

func (s *Store) copyTree(src, dst string) error {
	return afero.Walk(s.fs, src, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		target := dst + strings.TrimPrefix(p, src)
		if info.IsDir() {
			if err := s.fs.MkdirAll(target, info.Mode().Perm()); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
			return nil
		}
		return s.copyFile(p, target, info)
	})
}
