// Package blob stores rendered derivative bytes under content keys. The
// cache index holds the metadata; a blob store only ever sees opaque keys
// and bytes.
package blob

import "context"

// Store is the storage backend for rendered derivatives.
//
// Put is idempotent: writing the same key twice is safe because keys are
// derived from the rendered content's cache key. Get returns a not-found
// error (pictor.CodeNotFound) for absent keys. Delete is idempotent and
// DeleteBatch is best-effort, reporting the first failure after attempting
// every key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DeleteBatch(ctx context.Context, keys []string) error
}
