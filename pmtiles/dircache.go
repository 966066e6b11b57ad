package pmtiles

import (
	"context"
	"encoding/binary"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/tilebyte/pmtiles/internal/cachekit"
	"github.com/tilebyte/pmtiles/internal/metrics"
)

// dirKey identifies a compressed, on-disk directory extent: the archive it
// belongs to plus its byte range.
type dirKey struct {
	archiveID string
	offset    uint64
	length    uint64
}

// dirKeyString hashes a dirKey with xxhash into the string space
// singleflight.Group requires, matching the byte-range cache's key scheme.
func dirKeyString(k dirKey) string {
	h := xxhash.New()
	h.WriteString(k.archiveID)
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], k.offset)
	binary.LittleEndian.PutUint64(buf[8:16], k.length)
	h.Write(buf[:])
	return strconv.FormatUint(h.Sum64(), 16)
}

// directoryWeight approximates the LRU weight of a decoded directory as
// its packed buffer size plus a flat per-entry bookkeeping overhead.
func directoryWeight(d *Directory) int64 {
	return int64(d.Len()*entryStride) + 64
}

// DirectoryCache caches decoded directories keyed by archive id and on-disk
// byte range, shared across PMTilesReader instances pointed at the same
// archive. Construct one and pass it to every reader for a given archive
// (or process-wide) to get that sharing; a reader constructed without one
// gets a private cache of its own.
type DirectoryCache struct {
	cache   *cachekit.Cache[dirKey, *Directory]
	metrics *metrics.CacheMetrics

	mu        sync.Mutex
	byArchive map[string]map[dirKey]struct{}
}

// NewDirectoryCache builds a cache bounded by maxBytes (<=0 disables the
// bound). m may be nil to skip metrics registration.
func NewDirectoryCache(maxBytes int64, m *metrics.CacheMetrics) *DirectoryCache {
	c := &DirectoryCache{
		cache:     cachekit.New[dirKey, *Directory](directoryWeight, dirKeyString, maxBytes),
		metrics:   m,
		byArchive: make(map[string]map[dirKey]struct{}),
	}
	if m != nil {
		m.SetLimit(maxBytes)
	}
	return c
}

// GetOrLoad returns the cached directory for (archiveID, offset, length),
// or calls loader exactly once across concurrent callers sharing that key.
func (c *DirectoryCache) GetOrLoad(ctx context.Context, archiveID string, offset, length uint64, loader func(context.Context) (*Directory, error)) (*Directory, error) {
	key := dirKey{archiveID: archiveID, offset: offset, length: length}
	dir, err := c.cache.GetOrLoad(ctx, key, loader)
	if err == nil {
		c.track(archiveID, key)
	}
	if c.metrics != nil {
		stats := c.cache.Stats()
		c.metrics.Update(stats.Count, stats.Bytes)
		if err != nil {
			c.metrics.RecordLookup(archiveID, "error")
		}
	}
	return dir, err
}

func (c *DirectoryCache) track(archiveID string, key dirKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.byArchive[archiveID]
	if !ok {
		keys = make(map[dirKey]struct{})
		c.byArchive[archiveID] = keys
	}
	keys[key] = struct{}{}
}

// InvalidateArchive drops only the directories cached for archiveID,
// leaving every other archive sharing this cache untouched. Called when a
// reader for that archive is closed.
func (c *DirectoryCache) InvalidateArchive(archiveID string) {
	c.mu.Lock()
	keys := c.byArchive[archiveID]
	delete(c.byArchive, archiveID)
	c.mu.Unlock()

	for key := range keys {
		c.cache.Remove(key)
	}
}

// Stats returns the cache's hit/miss/load/eviction counters.
func (c *DirectoryCache) Stats() cachekit.Stats {
	return c.cache.Stats()
}
