// Package cache implements the derivative cache: rendered image variants
// indexed by canonical parameter keys, with reuse of already-rendered
// derivatives as bases for cheaper follow-up transforms.
//
// The index lives in a badger keyspace ("d:<sourceID>:<signature>" mapping
// to entry metadata) so that all derivatives of one source share a key
// prefix; invalidation and base-candidate search are prefix scans. Rendered
// bytes live in a blob store keyed by the digest of the cache key. Entries
// are immutable once written: a changed source invalidates by deletion,
// never by mutation, and cache loss is never data loss.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"pictor/internal/blob"
	"pictor/internal/metrics"
	"pictor/internal/model"
	"pictor/internal/params"
	"pictor/internal/pictor"
)

// indexPrefix namespaces derivative entries in the badger keyspace.
const indexPrefix = "d:"

// defaultHotSet bounds the in-memory entry cache when no size is configured.
const defaultHotSet = 256

// Entry is the index record of one cached derivative.
type Entry struct {
	Key       string           `json:"key"`
	SourceID  string           `json:"source_id"`
	Params    params.Transform `json:"params"`
	BlobKey   string           `json:"blob_key"`
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	Format    string           `json:"format"`
	Size      int64            `json:"size"`
	CreatedAt time.Time        `json:"created_at"`
}

// Options configure the cache index.
type Options struct {
	// Dir is the badger index directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the index off disk. Used in tests.
	InMemory bool

	// HotSet bounds the decoded entries held in memory in front of the
	// index. Zero means the default.
	HotSet int
}

// Cache looks up and produces derivatives. Concurrent requests for the same
// canonical key collapse into a single render; requests for different keys
// proceed independently.
type Cache struct {
	index    *badger.DB
	blobs    blob.Store
	files    pictor.FileStore
	renderer pictor.Renderer
	logger   pictor.Logger
	clock    pictor.Clock
	metrics  metrics.CacheMetrics

	hot   *lru.Cache
	group singleflight.Group
}

// New opens the cache index and returns a ready Cache. m may be nil, in
// which case metrics are created from the global registry state.
func New(opts Options, blobs blob.Store, files pictor.FileStore, renderer pictor.Renderer, logger pictor.Logger, clock pictor.Clock, m metrics.CacheMetrics) (*Cache, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts = bopts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening cache index: %w", err)
	}

	size := opts.HotSet
	if size <= 0 {
		size = defaultHotSet
	}
	hot, err := lru.New(size)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating hot set: %w", err)
	}

	if m == nil {
		m = metrics.NewCacheMetrics()
	}

	return &Cache{
		index:    db,
		blobs:    blobs,
		files:    files,
		renderer: renderer,
		logger:   logger,
		clock:    clock,
		metrics:  m,
		hot:      hot,
	}, nil
}

// Close releases the cache index.
func (c *Cache) Close() error {
	if err := c.index.Close(); err != nil {
		return fmt.Errorf("closing cache index: %w", err)
	}
	return nil
}

// Derivative returns the derivative of img described by t, rendering and
// caching it when absent. The returned entry and bytes are immutable.
func (c *Cache) Derivative(ctx context.Context, img *model.Image, t params.Transform) (*Entry, []byte, error) {
	if err := t.Validate(); err != nil {
		return nil, nil, pictor.Wrap(pictor.CodeConflict, "invalid transform", img.Src, err)
	}
	key := params.CacheKey(img.ID, t)

	// Fast path: exact hit without entering the flight group.
	if entry, data, ok, err := c.lookup(ctx, key); err != nil {
		return nil, nil, err
	} else if ok {
		c.metrics.RecordLookup(metrics.LookupHit)
		return entry, data, nil
	}

	type derivative struct {
		entry *Entry
		data  []byte
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		// An earlier flight may have populated the entry while this
		// caller was waiting.
		if entry, data, ok, err := c.lookup(ctx, key); err != nil {
			return nil, err
		} else if ok {
			c.metrics.RecordLookup(metrics.LookupHit)
			return derivative{entry, data}, nil
		}
		entry, data, err := c.produce(ctx, img, t, key)
		if err != nil {
			return nil, err
		}
		return derivative{entry, data}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	d := v.(derivative)
	return d.entry, d.data, nil
}

// lookup fetches an exact cache hit: the index entry and its blob. A
// missing entry, or an entry whose blob vanished, reports ok=false so the
// caller re-renders.
func (c *Cache) lookup(ctx context.Context, key string) (*Entry, []byte, bool, error) {
	entry, err := c.get(key)
	if pictor.IsNotFound(err) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}

	data, err := c.blobs.Get(ctx, entry.BlobKey)
	if pictor.IsNotFound(err) {
		c.logger.Warn("cache blob missing, re-rendering", "key", key)
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("reading cache blob: %w", err)
	}
	return entry, data, true, nil
}

// produce renders the derivative, preferring a cached base over the
// original source, and stores the result.
func (c *Cache) produce(ctx context.Context, img *model.Image, t params.Transform, key string) (*Entry, []byte, error) {
	start := time.Now()

	data, info, ok := c.renderFromBase(ctx, img.ID, t, key)
	outcome := metrics.LookupBase
	var err error
	if !ok {
		outcome = metrics.LookupMiss
		data, info, err = c.renderFromSource(ctx, img, t)
	}
	c.metrics.RecordRender(time.Since(start), err)
	if err != nil {
		return nil, nil, err
	}
	c.metrics.RecordLookup(outcome)

	bk := blobKey(key)
	if err := c.blobs.Put(ctx, bk, data); err != nil {
		return nil, nil, fmt.Errorf("storing derivative blob: %w", err)
	}
	entry := &Entry{
		Key:       key,
		SourceID:  img.ID,
		Params:    t.Canonical(),
		BlobKey:   bk,
		Width:     info.Width,
		Height:    info.Height,
		Format:    info.Format,
		Size:      int64(len(data)),
		CreatedAt: c.clock.Now(),
	}
	if err := c.put(entry); err != nil {
		return nil, nil, err
	}
	return entry, data, nil
}

// renderFromBase attempts a narrowing render from a cached base derivative.
// Any failure falls back to a source render rather than failing the
// request.
func (c *Cache) renderFromBase(ctx context.Context, sourceID string, t params.Transform, key string) ([]byte, pictor.RenderInfo, bool) {
	base, residual, ok := c.findBase(sourceID, t)
	if !ok {
		return nil, pictor.RenderInfo{}, false
	}

	baseData, err := c.blobs.Get(ctx, base.BlobKey)
	if err != nil {
		c.logger.Warn("base blob unavailable", "base", base.Key, "error", err)
		return nil, pictor.RenderInfo{}, false
	}
	data, info, err := c.renderer.Render(ctx, bytes.NewReader(baseData), residual)
	if err != nil {
		c.logger.Warn("render from base failed", "key", key, "base", base.Key, "error", err)
		return nil, pictor.RenderInfo{}, false
	}
	c.logger.Debug("rendered from base", "key", key, "base", base.Key)
	return data, info, true
}

func (c *Cache) renderFromSource(ctx context.Context, img *model.Image, t params.Transform) ([]byte, pictor.RenderInfo, error) {
	rc, err := c.files.Open(img.Src)
	if err != nil {
		return nil, pictor.RenderInfo{}, fmt.Errorf("opening source %s: %w", img.Src, err)
	}
	defer rc.Close()

	data, info, err := c.renderer.Render(ctx, rc, t)
	if err != nil {
		return nil, pictor.RenderInfo{}, fmt.Errorf("rendering %s: %w", img.Src, err)
	}
	return data, info, nil
}

// get reads an index entry, consulting the hot set first.
func (c *Cache) get(key string) (*Entry, error) {
	if v, ok := c.hot.Get(key); ok {
		return v.(*Entry), nil
	}

	var entry *Entry
	err := c.index.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(key))
		if err == badger.ErrKeyNotFound {
			return pictor.E(pictor.CodeNotFound, "cache entry not found", "")
		}
		if err != nil {
			return fmt.Errorf("reading cache index: %w", err)
		}
		return item.Value(func(val []byte) error {
			e, err := decodeEntry(val)
			if err != nil {
				return err
			}
			entry = e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	c.hot.Add(key, entry)
	return entry, nil
}

// put writes an index entry and promotes it to the hot set.
func (c *Cache) put(entry *Entry) error {
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	err = c.index.Update(func(txn *badger.Txn) error {
		return txn.Set(indexKey(entry.Key), val)
	})
	if err != nil {
		return fmt.Errorf("writing cache index: %w", err)
	}
	c.hot.Add(entry.Key, entry)
	return nil
}

func decodeEntry(val []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, fmt.Errorf("decoding cache entry: %w", err)
	}
	return &e, nil
}

func indexKey(key string) []byte {
	return []byte(indexPrefix + key)
}

// sourcePrefix is the index prefix shared by all derivatives of a source.
// Source IDs are UUIDs, so the trailing separator cannot occur inside one.
func sourcePrefix(sourceID string) []byte {
	return []byte(indexPrefix + sourceID + ":")
}

// blobKey derives the blob store key for a cache key. Hex digests keep blob
// names safe for both filesystem and S3 backends regardless of what the
// cache key contains.
func blobKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
