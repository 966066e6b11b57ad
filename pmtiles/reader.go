package pmtiles

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tilebyte/pmtiles/internal/metrics"
	"github.com/tilebyte/pmtiles/rangeio"
)

// ReaderOption configures a PMTilesReader at construction time.
type ReaderOption func(*readerConfig)

type readerConfig struct {
	dirCache    *DirectoryCache
	dirMaxBytes int64
	logger      *zap.Logger
	metrics     *metrics.CacheMetrics
}

// WithDirectoryCache supplies a DirectoryCache to share across readers
// presenting the same archive. Without this option the reader builds a
// private cache sized by WithDirectoryCacheSize.
func WithDirectoryCache(c *DirectoryCache) ReaderOption {
	return func(cfg *readerConfig) { cfg.dirCache = c }
}

// WithDirectoryCacheSize bounds a private directory cache's weight when no
// shared DirectoryCache was supplied. <=0 leaves it unbounded.
func WithDirectoryCacheSize(maxBytes int64) ReaderOption {
	return func(cfg *readerConfig) { cfg.dirMaxBytes = maxBytes }
}

// WithReaderLogger attaches structured logging of directory-load failures.
func WithReaderLogger(logger *zap.Logger) ReaderOption {
	return func(cfg *readerConfig) { cfg.logger = logger }
}

// WithReaderCacheMetrics registers directory-cache instrumentation.
func WithReaderCacheMetrics(m *metrics.CacheMetrics) ReaderOption {
	return func(cfg *readerConfig) { cfg.metrics = m }
}

// PMTilesReader resolves a tile id or (z,x,y) to a byte range, retrieves and
// decompresses it. It walks the packed directory tree, loading extents
// through a DirectoryCache backed by the supplied rangeio.Reader.
type PMTilesReader struct {
	r         rangeio.Reader
	archiveID string
	header    Header
	logger    *zap.Logger

	dirCache *DirectoryCache

	metaMu sync.Mutex
	meta   Metadata
	metaOk bool
}

// Open constructs a PMTilesReader over r, immediately parsing the 127-byte
// footer. r's SourceID becomes the cache namespace for directory entries.
func Open(ctx context.Context, r rangeio.Reader, opts ...ReaderOption) (*PMTilesReader, error) {
	cfg := readerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	footer := make([]byte, HeaderLenBytes)
	if err := rangeio.ReadFull(ctx, r, 0, footer); err != nil {
		return nil, wrapIOErr("Open", err)
	}
	h, err := DecodeHeader(footer)
	if err != nil {
		return nil, err
	}

	dirCache := cfg.dirCache
	if dirCache == nil {
		dirCache = NewDirectoryCache(cfg.dirMaxBytes, cfg.metrics)
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PMTilesReader{
		r:         r,
		archiveID: r.SourceID(),
		header:    h,
		logger:    logger,
		dirCache:  dirCache,
	}, nil
}

// Header returns the parsed footer. Constant-time after construction.
func (p *PMTilesReader) Header() Header { return p.header }

// Metadata lazily parses and caches the JSON metadata region.
func (p *PMTilesReader) Metadata(ctx context.Context) (Metadata, error) {
	p.metaMu.Lock()
	defer p.metaMu.Unlock()
	if p.metaOk {
		return p.meta, nil
	}
	raw, err := rangeio.ReadRangeAlloc(ctx, p.r, rangeio.Range{Offset: p.header.MetadataOffset, Length: uint32(p.header.MetadataLength)})
	if err != nil {
		return nil, wrapIOErr("Metadata", err)
	}
	m, err := DecodeMetadata(raw, p.header.InternalCompression)
	if err != nil {
		return nil, err
	}
	p.meta = m
	p.metaOk = true
	return m, nil
}

// TileID delegates to the Hilbert codec.
func (p *PMTilesReader) TileID(z uint8, x, y uint32) (uint64, error) {
	return TileID(z, x, y)
}

// TileIndex delegates to the Hilbert codec.
func (p *PMTilesReader) TileIndex(tileID uint64) (z uint8, x, y uint32, err error) {
	return ZXY(tileID)
}

// GetTile resolves tileID to bytes, walking the directory tree from the
// root to the tile-data entry. A false return with nil error means the
// archive has no tile at this id; it is not an error condition.
func (p *PMTilesReader) GetTile(ctx context.Context, tileID uint64) ([]byte, bool, error) {
	dirOffset, dirLength := p.header.RootOffset, p.header.RootLength

	for {
		dir, err := p.loadDirectory(ctx, dirOffset, dirLength)
		if err != nil {
			return nil, false, err
		}
		entry, found := dir.Find(tileID)
		if !found {
			return nil, false, nil
		}
		if entry.IsLeaf() {
			dirOffset = p.header.LeafDirectoryOffset + entry.Offset
			dirLength = uint64(entry.Length)
			continue
		}

		raw, err := rangeio.ReadRangeAlloc(ctx, p.r, rangeio.Range{
			Offset: p.header.TileDataOffset + entry.Offset,
			Length: entry.Length,
		})
		if err != nil {
			return nil, false, wrapIOErr("GetTile", err)
		}
		tile, err := decompress(raw, p.header.TileCompression)
		if err != nil {
			return nil, false, err
		}
		return tile, true, nil
	}
}

// GetTileZXY is the (z,x,y) shortcut for GetTile.
func (p *PMTilesReader) GetTileZXY(ctx context.Context, z uint8, x, y uint32) ([]byte, bool, error) {
	id, err := TileID(z, x, y)
	if err != nil {
		return nil, false, err
	}
	return p.GetTile(ctx, id)
}

func (p *PMTilesReader) loadDirectory(ctx context.Context, offset, length uint64) (*Directory, error) {
	dir, err := p.dirCache.GetOrLoad(ctx, p.archiveID, offset, length, func(ctx context.Context) (*Directory, error) {
		raw, err := rangeio.ReadRangeAlloc(ctx, p.r, rangeio.Range{Offset: offset, Length: uint32(length)})
		if err != nil {
			return nil, wrapIOErr("loadDirectory", err)
		}
		return DecodeDirectory(raw, p.header.InternalCompression)
	})
	if err != nil {
		p.logger.Warn("directory load failed",
			zap.String("archive", p.archiveID),
			zap.Uint64("offset", offset),
			zap.Uint64("length", length),
			zap.Error(err))
	}
	return dir, err
}

// TileIndicesAtZoom lazily walks the directory tree and sends every
// addressed (z,x,y) at the given zoom level on the returned channel,
// closing it when traversal completes, the context is cancelled, or an
// error occurs (reported once via the returned error channel and then the
// stream ends). To stop early, cancel ctx: the walking goroutine checks it
// before each directory load and while waiting to send, then exits. A
// consumer that stops reading without cancelling ctx leaves that goroutine
// blocked once the 64-entry output buffer is full.
func (p *PMTilesReader) TileIndicesAtZoom(ctx context.Context, z uint8) (<-chan [3]uint32, <-chan error) {
	out := make(chan [3]uint32, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)
		if err := p.walkZoom(ctx, p.header.RootOffset, p.header.RootLength, z, out); err != nil {
			select {
			case errc <- err:
			default:
			}
		}
	}()

	return out, errc
}

func (p *PMTilesReader) walkZoom(ctx context.Context, dirOffset, dirLength uint64, z uint8, out chan<- [3]uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := p.loadDirectory(ctx, dirOffset, dirLength)
	if err != nil {
		return err
	}

	for i := 0; i < dir.Len(); i++ {
		entry := dir.EntryAt(i)
		if entry.IsLeaf() {
			childOffset := p.header.LeafDirectoryOffset + entry.Offset
			if err := p.walkZoom(ctx, childOffset, uint64(entry.Length), z, out); err != nil {
				return err
			}
			continue
		}
		for run := uint32(0); run < entry.RunLength; run++ {
			id := entry.TileID + uint64(run)
			tz, tx, ty, err := ZXY(id)
			if err != nil {
				return err
			}
			if tz != z {
				continue
			}
			select {
			case out <- [3]uint32{uint32(tz), tx, ty}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Close releases the underlying backend and invalidates this archive's
// directory cache entries. Idempotent when the backend's Close is. The
// reader keeps no closed state of its own: after Close, an operation that
// reaches the backend fails with KindIoFatal wrapping the backend's
// KindClosed error, while Header, already-parsed Metadata, and bytes a
// CachingReader already holds are still returned.
func (p *PMTilesReader) Close() error {
	p.dirCache.InvalidateArchive(p.archiveID)
	return p.r.Close()
}

func wrapIOErr(op string, err error) error {
	kind := KindIoFatal
	if rangeio.IsKind(err, rangeio.KindTransient) {
		kind = KindIoTransient
	} else if rangeio.IsKind(err, rangeio.KindNotFound) {
		kind = KindTileNotFound
	}
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf("%w", err)}
}
