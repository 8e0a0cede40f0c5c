package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pictor/internal/pictor"
)

// FileSystemStore is a filesystem-based implementation of the Store
// interface. Blobs are stored as flat files named by their key:
//
//	<root>/
//	  <key>    (blob files, named by content key)
//
// Keys are hex digests, so they are always safe file names.
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a new filesystem blob store rooted at the
// given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

func (v *FileSystemStore) Put(ctx context.Context, key string, data []byte) error {
	destPath := filepath.Join(v.root, key)

	// If the blob already exists, skip (idempotent)
	if _, err := os.Stat(destPath); err == nil {
		return nil
	}

	return v.writeFile(destPath, bytes.NewReader(data), int64(len(data)))
}

func (v *FileSystemStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(v.root, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pictor.E(pictor.CodeNotFound, "blob not found", key)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (v *FileSystemStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(filepath.Join(v.root, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (v *FileSystemStore) DeleteBatch(ctx context.Context, keys []string) error {
	var firstErr error
	for _, key := range keys {
		if err := v.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func (v *FileSystemStore) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	// Copy data to temp file
	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Verify size
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemStore implements the Store interface
var _ Store = (*FileSystemStore)(nil)
