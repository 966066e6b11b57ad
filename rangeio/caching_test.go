package rangeio

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	data  []byte
	reads atomic.Int32
}

func (f *fakeReader) ReadRange(_ context.Context, offset uint64, target []byte) (int, error) {
	f.reads.Add(1)
	if offset >= uint64(len(f.data)) {
		return 0, nil
	}
	n := copy(target, f.data[offset:])
	return n, nil
}

func (f *fakeReader) Size(context.Context) (uint64, bool, error) {
	return uint64(len(f.data)), true, nil
}

func (f *fakeReader) SourceID() string { return "fake" }
func (f *fakeReader) Close() error     { return nil }

func makeData(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 251)
	}
	return out
}

func TestCachingReaderHeaderPrefetchServesWithoutBackend(t *testing.T) {
	backend := &fakeReader{data: makeData(1000)}
	r, err := NewCachingReader(context.Background(), backend, "archive-1", WithHeaderPrefetch(127))
	require.NoError(t, err)

	calls := backend.reads.Load()
	buf := make([]byte, 50)
	n, err := r.ReadRange(context.Background(), 10, buf)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	assert.Equal(t, backend.data[10:60], buf)
	assert.Equal(t, calls, backend.reads.Load(), "header read should not touch backend again")
}

func TestCachingReaderBlockAlignmentMatchesRawRead(t *testing.T) {
	backend := &fakeReader{data: makeData(20000)}
	r, err := NewCachingReader(context.Background(), backend, "archive-1", WithBlockAlignment(4096))
	require.NoError(t, err)

	buf := make([]byte, 2)
	n, err := r.ReadRange(context.Background(), 4094, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, backend.data[4094:4096], buf)
}

func TestCachingReaderCachesRepeatedBlockReads(t *testing.T) {
	backend := &fakeReader{data: makeData(20000)}
	r, err := NewCachingReader(context.Background(), backend, "archive-1", WithBlockAlignment(4096))
	require.NoError(t, err)

	buf := make([]byte, 100)
	_, err = r.ReadRange(context.Background(), 0, buf)
	require.NoError(t, err)
	firstCalls := backend.reads.Load()

	_, err = r.ReadRange(context.Background(), 10, buf)
	require.NoError(t, err)
	assert.Equal(t, firstCalls, backend.reads.Load())
}

func TestCachingReaderSpansMultipleBlocks(t *testing.T) {
	backend := &fakeReader{data: makeData(20000)}
	r, err := NewCachingReader(context.Background(), backend, "archive-1", WithBlockAlignment(4096))
	require.NoError(t, err)

	buf := make([]byte, 8192)
	n, err := r.ReadRange(context.Background(), 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 8192, n)
	assert.Equal(t, backend.data[0:8192], buf)
}

func TestCachingReaderNoAlignmentPassesThrough(t *testing.T) {
	backend := &fakeReader{data: makeData(1000)}
	r, err := NewCachingReader(context.Background(), backend, "archive-1")
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := r.ReadRange(context.Background(), 5, buf)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, backend.data[5:15], buf)
}
