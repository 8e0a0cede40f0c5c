package cache

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"pictor/internal/pictor"
)

// InvalidateSource removes every cached derivative of one source. Blob
// deletion is best-effort: an unreachable blob backend leaves orphaned
// bytes, never a stale index entry. It returns the number of entries
// removed.
func (c *Cache) InvalidateSource(ctx context.Context, sourceID string) (int, error) {
	keys, blobKeys, err := c.collect(ctx, sourcePrefix(sourceID))
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.remove(ctx, keys, blobKeys); err != nil {
		return 0, err
	}
	c.logger.Info("cache invalidated", "source", sourceID, "entries", len(keys))
	return len(keys), nil
}

// InvalidateAll empties the cache. Every derivative is regenerable, so this
// is safe at any time.
func (c *Cache) InvalidateAll(ctx context.Context) (int, error) {
	keys, blobKeys, err := c.collect(ctx, []byte(indexPrefix))
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.remove(ctx, keys, blobKeys); err != nil {
		return 0, err
	}
	c.logger.Info("cache cleared", "entries", len(keys))
	return len(keys), nil
}

// HandleInvalidate is the cache:invalidate task handler. Sources are
// processed independently; a failure on one does not skip the rest, and the
// handler is idempotent under retry.
func (c *Cache) HandleInvalidate(ctx context.Context, payload []byte) error {
	var p pictor.InvalidateParams
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding invalidate params: %w", err)
	}

	var firstErr error
	for _, id := range p.ImageIDs {
		if _, err := c.InvalidateSource(ctx, id); err != nil {
			c.logger.Error("invalidating source failed", "source", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Stats summarize the cache contents.
type Stats struct {
	Entries    int   // index entries
	Bytes      int64 // total derivative bytes
	HotEntries int   // entries currently in the hot set
}

// Stats scans the index and reports entry and byte counts.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{HotEntries: c.hot.Len()}
	err := c.index.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(indexPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if stats.Entries%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			err := it.Item().Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return err
				}
				stats.Entries++
				stats.Bytes += e.Size
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("scanning cache index: %w", err)
	}
	return stats, nil
}

// collect gathers the cache keys and blob keys under an index prefix.
func (c *Cache) collect(ctx context.Context, prefix []byte) (keys, blobKeys []string, err error) {
	err = c.index.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if len(keys)%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			err := it.Item().Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return err
				}
				keys = append(keys, e.Key)
				blobKeys = append(blobKeys, e.BlobKey)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scanning cache index: %w", err)
	}
	return keys, blobKeys, nil
}

// remove deletes index entries and their blobs. The write batch keeps large
// sweeps within badger's transaction limits.
func (c *Cache) remove(ctx context.Context, keys, blobKeys []string) error {
	wb := c.index.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(indexKey(k)); err != nil {
			return fmt.Errorf("deleting cache entry: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing cache deletions: %w", err)
	}

	for _, k := range keys {
		c.hot.Remove(k)
	}
	if err := c.blobs.DeleteBatch(ctx, blobKeys); err != nil {
		c.logger.Warn("deleting derivative blobs failed", "error", err)
	}
	c.metrics.RecordInvalidation(len(keys))
	return nil
}
