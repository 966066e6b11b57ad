package pmtiles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilebyte/pmtiles/rangeio"
)

// memReader is a rangeio.Reader over an in-memory archive image, used to
// assemble minimal but wire-valid PMTiles archives for reader tests.
type memReader struct {
	data []byte
	id   string
}

func (m *memReader) ReadRange(_ context.Context, offset uint64, target []byte) (int, error) {
	if offset >= uint64(len(m.data)) {
		return 0, nil
	}
	n := copy(target, m.data[offset:])
	return n, nil
}

func (m *memReader) Size(context.Context) (uint64, bool, error) { return uint64(len(m.data)), true, nil }
func (m *memReader) SourceID() string                           { return m.id }
func (m *memReader) Close() error                                { return nil }

// archiveBuilder assembles a minimal valid archive image: footer + root
// directory + an optional leaf-directory blob (one value of leafBlobs) +
// tile data, with an empty metadata region.
type archiveBuilder struct {
	rootEntries []Entry
	tilePayload map[uint64][]byte // keyed by entry.Offset within tileData
	leafBlobs   map[uint64][]byte // keyed by offset within leafDirs region
	leafLen     uint64
}

func (b *archiveBuilder) build(t *testing.T) []byte {
	t.Helper()

	rootBlob, err := EncodeDirectory(b.rootEntries, NoCompression)
	require.NoError(t, err)

	var leafBlob []byte
	for _, v := range b.leafBlobs {
		leafBlob = v
	}

	var tileData []byte
	for _, v := range b.tilePayload {
		tileData = append(tileData, v...)
	}

	h := Header{
		RootOffset:          HeaderLenBytes,
		RootLength:          uint64(len(rootBlob)),
		MetadataOffset:      uint64(HeaderLenBytes + len(rootBlob)),
		MetadataLength:      0,
		LeafDirectoryOffset: uint64(HeaderLenBytes + len(rootBlob)),
		LeafDirectoryLength: uint64(len(leafBlob)),
		TileDataOffset:      uint64(HeaderLenBytes + len(rootBlob) + len(leafBlob)),
		TileDataLength:      uint64(len(tileData)),
		AddressedTilesCount: 1,
		TileEntriesCount:    uint64(len(b.rootEntries)),
		TileContentsCount:   1,
		InternalCompression: NoCompression,
		TileCompression:     NoCompression,
		TileType:            Mvt,
		MinZoom:             0,
		MaxZoom:             0,
	}

	out := EncodeHeader(h)
	out = append(out, rootBlob...)
	out = append(out, leafBlob...)
	out = append(out, tileData...)
	return out
}

func TestPMTilesReaderSingleTileArchive(t *testing.T) {
	payload := []byte("hello tile")
	b := &archiveBuilder{
		rootEntries: []Entry{{TileID: 0, Offset: 0, Length: uint32(len(payload)), RunLength: 1}},
		tilePayload: map[uint64][]byte{0: payload},
	}
	img := b.build(t)

	r, err := Open(context.Background(), &memReader{data: img, id: "archive-single"})
	require.NoError(t, err)

	got, found, err := r.GetTileZXY(context.Background(), 0, 0, 0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payload, got)

	_, found, err = r.GetTileZXY(context.Background(), 1, 0, 0)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPMTilesReaderRunLengthEntry(t *testing.T) {
	payload := []byte("abcdefghij0123456789")
	b := &archiveBuilder{
		rootEntries: []Entry{{TileID: 10, Offset: 0, Length: uint32(len(payload)), RunLength: 3}},
		tilePayload: map[uint64][]byte{0: payload},
	}
	img := b.build(t)

	r, err := Open(context.Background(), &memReader{data: img, id: "archive-run"})
	require.NoError(t, err)

	got10, found, err := r.GetTile(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, found)
	got11, found, err := r.GetTile(context.Background(), 11)
	require.NoError(t, err)
	require.True(t, found)
	got12, found, err := r.GetTile(context.Background(), 12)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, got10, got11)
	assert.Equal(t, got11, got12)

	_, found, err = r.GetTile(context.Background(), 9)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = r.GetTile(context.Background(), 13)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPMTilesReaderLeafDescent(t *testing.T) {
	payload := []byte("leaf payload bytes")
	childEntries := []Entry{{TileID: 42, Offset: 0, Length: uint32(len(payload)), RunLength: 1}}
	childBlob, err := EncodeDirectory(childEntries, NoCompression)
	require.NoError(t, err)

	b := &archiveBuilder{
		rootEntries: []Entry{{TileID: 0, Offset: 0, Length: uint32(len(childBlob)), RunLength: 0}},
		tilePayload: map[uint64][]byte{0: payload},
		leafBlobs:   map[uint64][]byte{0: childBlob},
	}
	img := b.build(t)

	r, err := Open(context.Background(), &memReader{data: img, id: "archive-leaf"})
	require.NoError(t, err)

	got, found, err := r.GetTile(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payload, got)
	assert.Equal(t, 2, r.dirCache.Stats().Count)
}

func TestPMTilesReaderHeaderAndMetadata(t *testing.T) {
	payload := []byte("x")
	metaBytes, err := EncodeMetadata(Metadata{"name": "test"}, NoCompression)
	require.NoError(t, err)

	rootEntries := []Entry{{TileID: 0, Offset: 0, Length: uint32(len(payload)), RunLength: 1}}
	rootBlob, err := EncodeDirectory(rootEntries, NoCompression)
	require.NoError(t, err)

	h := Header{
		RootOffset:          HeaderLenBytes,
		RootLength:          uint64(len(rootBlob)),
		MetadataOffset:      uint64(HeaderLenBytes + len(rootBlob)),
		MetadataLength:      uint64(len(metaBytes)),
		TileDataOffset:      uint64(HeaderLenBytes + len(rootBlob) + len(metaBytes)),
		TileDataLength:      uint64(len(payload)),
		AddressedTilesCount: 1,
		TileEntriesCount:    1,
		TileContentsCount:   1,
		InternalCompression: NoCompression,
		TileCompression:     NoCompression,
		TileType:            Png,
		MinZoom:             0,
		MaxZoom:             0,
	}
	img := EncodeHeader(h)
	img = append(img, rootBlob...)
	img = append(img, metaBytes...)
	img = append(img, payload...)

	r, err := Open(context.Background(), &memReader{data: img, id: "archive-meta"})
	require.NoError(t, err)
	assert.Equal(t, Png, r.Header().TileType)

	meta, err := r.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", meta.StringField("name"))
}

func TestPMTilesReaderTileIndicesAtZoom(t *testing.T) {
	payload := []byte("z")
	b := &archiveBuilder{
		rootEntries: []Entry{{TileID: 0, Offset: 0, Length: uint32(len(payload)), RunLength: 1}},
		tilePayload: map[uint64][]byte{0: payload},
	}
	img := b.build(t)

	r, err := Open(context.Background(), &memReader{data: img, id: "archive-walk"})
	require.NoError(t, err)

	out, errc := r.TileIndicesAtZoom(context.Background(), 0)
	var got [][3]uint32
	for idx := range out {
		got = append(got, idx)
	}
	require.NoError(t, <-errc)
	assert.Equal(t, [][3]uint32{{0, 0, 0}}, got)
}

func TestPMTilesReaderCloseIsIdempotent(t *testing.T) {
	payload := []byte("x")
	b := &archiveBuilder{
		rootEntries: []Entry{{TileID: 0, Offset: 0, Length: uint32(len(payload)), RunLength: 1}},
		tilePayload: map[uint64][]byte{0: payload},
	}
	img := b.build(t)

	r, err := Open(context.Background(), &memReader{data: img, id: "archive-close"})
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

var _ rangeio.Reader = (*memReader)(nil)
