package rangeio

import (
	"context"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilebyte/pmtiles/internal/metrics"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	"google.golang.org/api/googleapi"

	_ "gocloud.dev/blob/memblob"
)

func TestBucketReaderReadRangeAndSize(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	defer bucket.Close()

	data := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, bucket.WriteAll(ctx, "archive.pmtiles", data, nil))

	r := &BucketReader{bucket: bucket, key: "archive.pmtiles", sourceID: "mem:///archive.pmtiles"}

	size, known, err := r.Size(ctx)
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, uint64(len(data)), size)

	buf := make([]byte, 9)
	n, err := r.ReadRange(ctx, 4, buf)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, []byte("quick bro"), buf)

	assert.Equal(t, "mem:///archive.pmtiles", r.SourceID())
}

func TestBucketReaderMissingKeyIsNotFound(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	defer bucket.Close()

	r := &BucketReader{bucket: bucket, key: "missing.pmtiles", sourceID: "mem:///missing.pmtiles"}
	buf := make([]byte, 10)
	_, err = r.ReadRange(ctx, 0, buf)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestBucketReaderCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)

	r := &BucketReader{bucket: bucket, key: "k", sourceID: "mem:///k"}
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

func TestClassifyBucketErrFallsBackToGcerrors(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	defer bucket.Close()

	_, err = bucket.Attributes(ctx, "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, gcerrors.NotFound, gcerrors.Code(err))

	classified := classifyBucketErr("test", err)
	assert.True(t, IsKind(classified, KindNotFound))
}

func TestClassifyBucketErrAzureResponseError(t *testing.T) {
	notFound := &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "BlobNotFound"}
	assert.True(t, IsKind(classifyBucketErr("test", notFound), KindNotFound))

	throttled := &azcore.ResponseError{StatusCode: http.StatusTooManyRequests, ErrorCode: "ServerBusy"}
	assert.True(t, IsKind(classifyBucketErr("test", throttled), KindTransient))

	denied := &azcore.ResponseError{StatusCode: http.StatusForbidden, ErrorCode: "AuthorizationFailure"}
	assert.True(t, IsKind(classifyBucketErr("test", denied), KindFatal))
}

func TestClassifyBucketErrGoogleAPIError(t *testing.T) {
	notFound := &googleapi.Error{Code: http.StatusNotFound, Message: "object not found"}
	assert.True(t, IsKind(classifyBucketErr("test", notFound), KindNotFound))

	unavailable := &googleapi.Error{Code: http.StatusServiceUnavailable, Message: "backend unavailable"}
	assert.True(t, IsKind(classifyBucketErr("test", unavailable), KindTransient))

	badRequest := &googleapi.Error{Code: http.StatusBadRequest, Message: "bad range"}
	assert.True(t, IsKind(classifyBucketErr("test", badRequest), KindFatal))
}

func TestBucketReaderRecordsBackendMetrics(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	defer bucket.Close()
	require.NoError(t, bucket.WriteAll(ctx, "archive.pmtiles", []byte("hello world"), nil))

	m := metrics.NewBackendMetrics(t.Name(), nil)
	r := &BucketReader{bucket: bucket, key: "archive.pmtiles", sourceID: "mem:///archive.pmtiles", metrics: m}

	buf := make([]byte, 5)
	_, err = r.ReadRange(ctx, 0, buf)
	require.NoError(t, err)
}
