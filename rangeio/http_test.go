package rangeio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilebyte/pmtiles/internal/metrics"
)

type fakeHTTPClient struct {
	status int
	body   []byte
	lastReq *http.Request
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	f.lastReq = req
	return &http.Response{
		StatusCode: f.status,
		Status:     http.StatusText(f.status),
		Body:       io.NopCloser(bytes.NewReader(f.body)),
		Header:     make(http.Header),
	}, nil
}

func TestHTTPReaderReadRangeSetsRangeHeader(t *testing.T) {
	client := &fakeHTTPClient{status: http.StatusPartialContent, body: []byte("hello")}
	r, err := NewHTTPReader("https://example.test/archive.pmtiles", WithHTTPClient(client))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := r.ReadRange(context.Background(), 100, buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
	assert.Equal(t, "bytes=100-104", client.lastReq.Header.Get("Range"))
}

func TestHTTPReaderAppliesAuth(t *testing.T) {
	client := &fakeHTTPClient{status: http.StatusOK, body: []byte("x")}
	r, err := NewHTTPReader("https://example.test/a", WithHTTPClient(client), WithBearerToken("tok123"))
	require.NoError(t, err)

	_, err = r.ReadRange(context.Background(), 0, make([]byte, 1))
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok123", client.lastReq.Header.Get("Authorization"))
}

func TestHTTPReaderNotFoundIsKindNotFound(t *testing.T) {
	client := &fakeHTTPClient{status: http.StatusNotFound}
	r, err := NewHTTPReader("https://example.test/missing", WithHTTPClient(client))
	require.NoError(t, err)

	_, err = r.ReadRange(context.Background(), 0, make([]byte, 1))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestHTTPReaderServerErrorIsTransient(t *testing.T) {
	client := &fakeHTTPClient{status: http.StatusServiceUnavailable}
	r, err := NewHTTPReader("https://example.test/a", WithHTTPClient(client))
	require.NoError(t, err)

	_, err = r.ReadRange(context.Background(), 0, make([]byte, 1))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTransient))
}

func TestHTTPReaderRecordsBackendMetrics(t *testing.T) {
	m := metrics.NewBackendMetrics(t.Name(), nil)
	client := &fakeHTTPClient{status: http.StatusOK, body: []byte("x")}
	r, err := NewHTTPReader("https://example.test/a", WithHTTPClient(client), WithHTTPMetrics(m))
	require.NoError(t, err)

	_, err = r.ReadRange(context.Background(), 0, make([]byte, 1))
	require.NoError(t, err)
}
