package blob

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"pictor/internal/pictor"
)

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := NewMemoryStore()

	tests := []struct {
		name string
		key  string
		data string
	}{
		{
			name: "store and retrieve blob",
			key:  "abc123",
			data: "rendered bytes",
		},
		{
			name: "store empty blob",
			key:  "empty",
			data: "",
		},
		{
			name: "store large blob",
			key:  "large",
			data: strings.Repeat("x", 10000),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Put(context.Background(), tt.key, []byte(tt.data)); err != nil {
				t.Errorf("Put() error = %v", err)
				return
			}

			got, err := store.Get(context.Background(), tt.key)
			if err != nil {
				t.Errorf("Get() unexpected error: %v", err)
				return
			}

			if string(got) != tt.data {
				t.Errorf("Get() = %q, want %q", got, tt.data)
			}
		})
	}
}

func TestMemoryStore_PutIdempotent(t *testing.T) {
	store := NewMemoryStore()

	data := []byte("derivative content")
	key := "test-key"

	// Store same blob twice
	for i := 0; i < 2; i++ {
		if err := store.Put(context.Background(), key, data); err != nil {
			t.Fatalf("Put() iteration %d error: %v", i+1, err)
		}
	}

	got, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get() = %q, want %q", got, data)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("Get() expected error for nonexistent key, got nil")
	}
	if !pictor.IsNotFound(err) {
		t.Errorf("Get() error = %v, want not-found", err)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()

	key := "mutate"
	if err := store.Put(context.Background(), key, []byte("original")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, _ := store.Get(context.Background(), key)
	got[0] = 'X'

	again, _ := store.Get(context.Background(), key)
	if string(again) != "original" {
		t.Errorf("stored blob was mutated through a returned slice: %q", again)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()

	key := "doomed"
	if err := store.Put(context.Background(), key, []byte("bytes")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	if err := store.Delete(context.Background(), key); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get(context.Background(), key); !pictor.IsNotFound(err) {
		t.Errorf("Get() after delete = %v, want not-found", err)
	}

	// Deleting again is a no-op
	if err := store.Delete(context.Background(), key); err != nil {
		t.Errorf("second Delete() error: %v", err)
	}
}

func TestMemoryStore_DeleteBatch(t *testing.T) {
	store := NewMemoryStore()

	for _, key := range []string{"a", "b", "c"} {
		if err := store.Put(context.Background(), key, []byte(key)); err != nil {
			t.Fatalf("Put(%s) error: %v", key, err)
		}
	}

	if err := store.DeleteBatch(context.Background(), []string{"a", "c", "missing"}); err != nil {
		t.Fatalf("DeleteBatch() error: %v", err)
	}

	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
	if _, err := store.Get(context.Background(), "b"); err != nil {
		t.Errorf("untouched blob should survive: %v", err)
	}
}
