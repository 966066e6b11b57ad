package rangeio

import (
	"context"
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/tilebyte/pmtiles/internal/cachekit"
	"github.com/tilebyte/pmtiles/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultCacheBlockSize is a block size for WithBlockAlignment. Nothing in
// this package applies it implicitly: alignment stays off unless
// WithBlockAlignment is given a non-zero size.
const DefaultCacheBlockSize = 65536

type blockKey struct {
	archiveID string
	block     uint64
}

// blockKeyString renders a blockKey to the string space singleflight.Group
// requires. Hashed with xxhash rather than concatenated so that archive ids
// of arbitrary length never collide against the block-number suffix.
func blockKeyString(k blockKey) string {
	h := xxhash.New()
	h.WriteString(k.archiveID)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], k.block)
	h.Write(buf[:])
	return strconv.FormatUint(h.Sum64(), 16)
}

// CachingOption configures a CachingReader at construction.
type CachingOption func(*cachingConfig)

type cachingConfig struct {
	headerPrefetchSize int
	blockSize          uint64
	maxCacheBytes      int64
	concurrency        int
	logger             *zap.Logger
	metrics            *metrics.CacheMetrics
}

// WithHeaderPrefetch pre-reads the first n bytes at construction; reads
// entirely within [0, n) are served from memory.
func WithHeaderPrefetch(n int) CachingOption {
	return func(c *cachingConfig) { c.headerPrefetchSize = n }
}

// WithBlockAlignment enables the block-aligned range cache with the given
// block size. blockSize == 0 disables alignment (the default).
func WithBlockAlignment(blockSize uint64) CachingOption {
	return func(c *cachingConfig) { c.blockSize = blockSize }
}

// WithCacheMaxBytes bounds the range cache's total weight in bytes.
func WithCacheMaxBytes(n int64) CachingOption {
	return func(c *cachingConfig) { c.maxCacheBytes = n }
}

// WithFetchConcurrency bounds how many blocks are fetched in parallel to
// satisfy a single logical read.
func WithFetchConcurrency(n int) CachingOption {
	return func(c *cachingConfig) { c.concurrency = n }
}

// WithCachingLogger attaches structured logging to cache misses/errors.
func WithCachingLogger(logger *zap.Logger) CachingOption {
	return func(c *cachingConfig) { c.logger = logger }
}

// WithCacheMetrics wires Prometheus instrumentation into the cache.
func WithCacheMetrics(m *metrics.CacheMetrics) CachingOption {
	return func(c *cachingConfig) { c.metrics = m }
}

// CachingReader decorates a Reader with an optional header pre-buffer and
// an optional block-aligned byte-range cache. Concurrent requests for the
// same block collapse onto a single backend fetch.
type CachingReader struct {
	inner     Reader
	archiveID string
	logger    *zap.Logger
	metrics   *metrics.CacheMetrics

	headerBuf []byte

	blockSize   uint64
	concurrency int
	size        uint64
	sizeKnown   bool
	cache       *cachekit.Cache[blockKey, []byte]
}

// NewCachingReader wraps inner with the caching behaviors selected by
// opts. The archiveID namespaces the block-cache keys. Each CachingReader
// builds its own block cache when alignment is enabled; no option lets two
// readers share one, so independently constructed readers over the same
// archive each fetch and hold their own blocks (pmtiles.DirectoryCache is
// the shareable cache, for decoded directories).
func NewCachingReader(ctx context.Context, inner Reader, archiveID string, opts ...CachingOption) (*CachingReader, error) {
	cfg := cachingConfig{concurrency: 4}
	for _, o := range opts {
		o(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &CachingReader{
		inner:       inner,
		archiveID:   archiveID,
		logger:      logger,
		metrics:     cfg.metrics,
		blockSize:   cfg.blockSize,
		concurrency: cfg.concurrency,
	}

	size, known, err := inner.Size(ctx)
	if err != nil {
		return nil, err
	}
	r.size, r.sizeKnown = size, known

	if cfg.headerPrefetchSize > 0 {
		n := cfg.headerPrefetchSize
		if r.sizeKnown && uint64(n) > r.size {
			n = int(r.size)
		}
		buf := make([]byte, n)
		if n > 0 {
			if err := ReadFull(ctx, inner, 0, buf); err != nil {
				return nil, err
			}
		}
		r.headerBuf = buf
	}

	if cfg.blockSize > 0 {
		weightFn := func(b []byte) int64 { return int64(len(b)) + 32 }
		r.cache = cachekit.New[blockKey, []byte](weightFn, blockKeyString, cfg.maxCacheBytes)
		if r.metrics != nil {
			r.metrics.SetLimit(cfg.maxCacheBytes)
		}
	}

	return r, nil
}

func (r *CachingReader) blockRange(block uint64) (offset uint64, length uint64) {
	offset = block * r.blockSize
	length = r.blockSize
	if r.sizeKnown && offset+length > r.size {
		if offset >= r.size {
			return offset, 0
		}
		length = r.size - offset
	}
	return offset, length
}

func (r *CachingReader) loadBlock(ctx context.Context, block uint64) ([]byte, error) {
	key := blockKey{archiveID: r.archiveID, block: block}
	return r.cache.GetOrLoad(ctx, key, func(ctx context.Context) ([]byte, error) {
		offset, length := r.blockRange(block)
		if length == 0 {
			return []byte{}, nil
		}
		buf := make([]byte, length)
		if err := ReadFull(ctx, r.inner, offset, buf); err != nil {
			if r.logger != nil {
				r.logger.Warn("block load failed", zap.Uint64("block", block), zap.Error(err))
			}
			return nil, err
		}
		if r.metrics != nil {
			r.metrics.RecordLookup(r.archiveID, "miss")
		}
		return buf, nil
	})
}

// ReadRange implements Reader, serving from the header buffer, the block
// cache, or the wrapped backend depending on configuration.
func (r *CachingReader) ReadRange(ctx context.Context, offset uint64, target []byte) (int, error) {
	if len(target) == 0 {
		return 0, nil
	}
	end := offset + uint64(len(target))

	if r.headerBuf != nil && end <= uint64(len(r.headerBuf)) {
		n := copy(target, r.headerBuf[offset:end])
		return n, nil
	}

	if r.blockSize == 0 || r.cache == nil {
		return r.inner.ReadRange(ctx, offset, target)
	}

	firstBlock := offset / r.blockSize
	lastBlock := (end - 1) / r.blockSize

	numBlocks := int(lastBlock-firstBlock) + 1
	results := make([][]byte, numBlocks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := 0; i < numBlocks; i++ {
		i := i
		block := firstBlock + uint64(i)
		g.Go(func() error {
			data, err := r.loadBlock(gctx, block)
			if err != nil {
				return err
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for i, data := range results {
		block := firstBlock + uint64(i)
		blockStart := block * r.blockSize
		blockEnd := blockStart + uint64(len(data))

		readStart := offset
		if blockStart > readStart {
			readStart = blockStart
		}
		readEnd := end
		if blockEnd < readEnd {
			readEnd = blockEnd
		}
		if readStart >= readEnd {
			continue
		}
		srcStart := readStart - blockStart
		srcEnd := readEnd - blockStart
		dstStart := readStart - offset
		dstEnd := readEnd - offset
		n := copy(target[dstStart:dstEnd], data[srcStart:srcEnd])
		total += n
	}
	return total, nil
}

func (r *CachingReader) Size(ctx context.Context) (uint64, bool, error) {
	return r.size, r.sizeKnown, nil
}

func (r *CachingReader) SourceID() string {
	return r.inner.SourceID()
}

// Close closes the wrapped Reader. The header buffer and block cache are
// left as they are, so reads they can serve still succeed after Close.
func (r *CachingReader) Close() error {
	return r.inner.Close()
}

// Stats returns the block cache's hit/miss/load/eviction counters. Returns
// the zero value if block alignment is disabled.
func (r *CachingReader) Stats() cachekit.Stats {
	if r.cache == nil {
		return cachekit.Stats{}
	}
	return r.cache.Stats()
}
