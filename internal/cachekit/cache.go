// Package cachekit implements a generic loading cache: concurrent callers
// asking for the same key collapse onto a single in-flight load, and
// completed loads are kept in an LRU bounded by a caller-supplied weight
// function. It backs both the byte-range cache (rangeio.CachingReader)
// and the decoded-directory cache (pmtiles.DirectoryCache), which share
// these exact atomicity and eviction semantics but differ in key and value
// shape.
package cachekit

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Stats is a point-in-time snapshot of a Cache's counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Loads     uint64
	Evictions uint64
	Count     int
	Bytes     int64
}

type entry[K comparable, V any] struct {
	key    K
	value  V
	weight int64
}

// Cache is a key-value LRU with singleflight-collapsed loads and an
// optional byte-weight bound. K must be comparable; KeyFunc renders K to
// the string space singleflight.Group requires.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]*list.Element
	order    *list.List
	weightFn func(V) int64
	keyFn    func(K) string
	maxBytes int64
	bytes    int64
	group    singleflight.Group

	hits      atomic.Uint64
	misses    atomic.Uint64
	loads     atomic.Uint64
	evictions atomic.Uint64
}

// New constructs a Cache. maxBytes <= 0 disables weight-based eviction
// (the cache then grows without bound, useful in tests).
func New[K comparable, V any](weightFn func(V) int64, keyFn func(K) string, maxBytes int64) *Cache[K, V] {
	return &Cache[K, V]{
		items:    make(map[K]*list.Element),
		order:    list.New(),
		weightFn: weightFn,
		keyFn:    keyFn,
		maxBytes: maxBytes,
	}
}

// Get returns the cached value for key, if present, without touching the
// singleflight loader path.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry[K, V]).value, true
}

// GetOrLoad returns the cached value for key, or calls loader exactly once
// across all concurrent callers sharing the same key and caches the
// result. A failed load is not cached and leaves the key absent.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, loader func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	skey := c.keyFn(key)
	v, err, _ := c.group.Do(skey, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		val, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.insert(key, val)
		c.loads.Add(1)
		return val, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (c *Cache[K, V]) insert(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.weightFn(value)
	if el, ok := c.items[key]; ok {
		old := el.Value.(*entry[K, V])
		c.bytes += w - old.weight
		old.value = value
		old.weight = w
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&entry[K, V]{key: key, value: value, weight: w})
		c.items[key] = el
		c.bytes += w
	}
	c.evictLocked()
}

func (c *Cache[K, V]) evictLocked() {
	if c.maxBytes <= 0 {
		return
	}
	for c.bytes > c.maxBytes {
		back := c.order.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry[K, V])
		c.order.Remove(back)
		delete(c.items, e.key)
		c.bytes -= e.weight
		c.evictions.Add(1)
	}
}

// Remove evicts key, if present, without counting it as an Evictions stat
// (explicit removal is not eviction under pressure).
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return
	}
	e := el.Value.(*entry[K, V])
	c.order.Remove(el)
	delete(c.items, key)
	c.bytes -= e.weight
}

// Clear empties the cache.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.order = list.New()
	c.bytes = 0
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	count := len(c.items)
	bytes := c.bytes
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Loads:     c.loads.Load(),
		Evictions: c.evictions.Load(),
		Count:     count,
		Bytes:     bytes,
	}
}
