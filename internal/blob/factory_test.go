package blob

import (
	"context"
	"strings"
	"testing"

	"pictor/internal/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	t.Run("memory store", func(t *testing.T) {
		store, err := NewStoreFromConfig(context.Background(), config.BlobConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewStoreFromConfig() error = %v", err)
		}
		if _, ok := store.(*MemoryStore); !ok {
			t.Errorf("NewStoreFromConfig() = %T, want *MemoryStore", store)
		}
	})

	t.Run("filesystem store", func(t *testing.T) {
		store, err := NewStoreFromConfig(context.Background(), config.BlobConfig{
			Type:   "filesystem",
			FSRoot: t.TempDir(),
		})
		if err != nil {
			t.Fatalf("NewStoreFromConfig() error = %v", err)
		}
		if _, ok := store.(*FileSystemStore); !ok {
			t.Errorf("NewStoreFromConfig() = %T, want *FileSystemStore", store)
		}
	})

	t.Run("filesystem store without root", func(t *testing.T) {
		_, err := NewStoreFromConfig(context.Background(), config.BlobConfig{Type: "filesystem"})
		if err == nil {
			t.Fatal("NewStoreFromConfig() expected error for missing fs_root")
		}
		if !strings.Contains(err.Error(), "fs_root") {
			t.Errorf("error = %v, want error mentioning fs_root", err)
		}
	})

	t.Run("unknown store type", func(t *testing.T) {
		_, err := NewStoreFromConfig(context.Background(), config.BlobConfig{Type: "tape"})
		if err == nil {
			t.Fatal("NewStoreFromConfig() expected error for unknown type")
		}
		if !strings.Contains(err.Error(), "unknown blob store type") {
			t.Errorf("error = %v, want error containing 'unknown blob store type'", err)
		}
	})
}
