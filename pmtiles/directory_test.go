package pmtiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeDirectoryRoundTrip(t *testing.T) {
	entries := []Entry{
		{TileID: 0, Offset: 0, Length: 100, RunLength: 1},
		{TileID: 1, Offset: 100, Length: 50, RunLength: 1},
		{TileID: 10, Offset: 0, Length: 20, RunLength: 3},
		{TileID: 20, Offset: 500, Length: 10, RunLength: 0},
	}

	encoded, err := EncodeDirectory(entries, Gzip)
	require.NoError(t, err)

	dir, err := DecodeDirectory(encoded, Gzip)
	require.NoError(t, err)

	require.Equal(t, len(entries), dir.Len())
	for i, e := range entries {
		assert.Equal(t, e, dir.EntryAt(i))
	}
}

func TestEncodeDecodeDirectoryNoCompression(t *testing.T) {
	entries := []Entry{
		{TileID: 5, Offset: 0, Length: 10, RunLength: 1},
	}
	encoded, err := EncodeDirectory(entries, NoCompression)
	require.NoError(t, err)

	dir, err := DecodeDirectory(encoded, NoCompression)
	require.NoError(t, err)
	assert.Equal(t, entries[0], dir.EntryAt(0))
}

func TestDirectoryFindTileEntry(t *testing.T) {
	entries := []Entry{
		{TileID: 10, Offset: 0, Length: 20, RunLength: 3},
	}
	encoded, err := EncodeDirectory(entries, NoCompression)
	require.NoError(t, err)
	dir, err := DecodeDirectory(encoded, NoCompression)
	require.NoError(t, err)

	for _, id := range []uint64{10, 11, 12} {
		e, ok := dir.Find(id)
		require.True(t, ok)
		assert.Equal(t, entries[0], e)
	}
	for _, id := range []uint64{9, 13} {
		_, ok := dir.Find(id)
		assert.False(t, ok)
	}
}

func TestDirectoryFindLeafEntry(t *testing.T) {
	entries := []Entry{
		{TileID: 0, Offset: 0, Length: 64, RunLength: 0},
	}
	encoded, err := EncodeDirectory(entries, NoCompression)
	require.NoError(t, err)
	dir, err := DecodeDirectory(encoded, NoCompression)
	require.NoError(t, err)

	e, ok := dir.Find(42)
	require.True(t, ok)
	assert.True(t, e.IsLeaf())
}

func TestValidateDirectoryRejectsOverlappingRuns(t *testing.T) {
	dir := newDirectory(2)
	dir.setTileID(0, 10)
	dir.setRunLength(0, 5)
	dir.setLength(0, 10)
	dir.setOffset(0, 0)
	dir.setTileID(1, 12)
	dir.setRunLength(1, 1)
	dir.setLength(1, 10)
	dir.setOffset(1, 10)

	err := ValidateDirectory(dir)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidDirectory))
}

func TestValidateDirectoryRejectsUnsortedEntries(t *testing.T) {
	dir := newDirectory(2)
	dir.setTileID(0, 10)
	dir.setTileID(1, 5)

	err := ValidateDirectory(dir)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidDirectory))
}

func TestDirectoryAdjacentOffsetEncoding(t *testing.T) {
	entries := []Entry{
		{TileID: 0, Offset: 0, Length: 100, RunLength: 1},
		{TileID: 1, Offset: 100, Length: 50, RunLength: 1},
		{TileID: 2, Offset: 9000, Length: 20, RunLength: 1},
	}
	encoded, err := EncodeDirectory(entries, NoCompression)
	require.NoError(t, err)
	dir, err := DecodeDirectory(encoded, NoCompression)
	require.NoError(t, err)
	for i, e := range entries {
		assert.Equal(t, e.Offset, dir.EntryAt(i).Offset)
	}
}
