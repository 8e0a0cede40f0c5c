package blob

import (
	"context"
	"sync"

	"pictor/internal/pictor"
)

// MemoryStore is an in-memory implementation of the Store interface.
// It keeps all blobs in memory, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	blobs map[string][]byte
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
	}
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotent: storing the same key multiple times is safe
	buf := make([]byte, len(data))
	copy(buf, data)
	m.blobs[key] = buf
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[key]
	if !ok {
		return nil, pictor.E(pictor.CodeNotFound, "blob not found", key)
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, key)
	return nil
}

func (m *MemoryStore) DeleteBatch(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.blobs, key)
	}
	return nil
}

// Len reports how many blobs are stored. Used by tests.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Compile-time check that MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)
