package rangeio

import (
	"context"
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/tilebyte/pmtiles/internal/metrics"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	"google.golang.org/api/googleapi"

	// Driver registrations: importing for side effects wires each scheme
	// into blob.OpenBucket (s3://, azblob://, gs://).
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// BucketOption configures a BucketReader at construction.
type BucketOption func(*bucketConfig)

type bucketConfig struct {
	metrics *metrics.BackendMetrics
}

// WithBucketMetrics wires Prometheus instrumentation into the reader.
func WithBucketMetrics(m *metrics.BackendMetrics) BucketOption {
	return func(c *bucketConfig) { c.metrics = m }
}

// BucketReader is a Reader backed by a gocloud.dev/blob bucket, uniformly
// covering S3, Azure Blob, and Google Cloud Storage via their respective
// driver registrations.
type BucketReader struct {
	bucket   *blob.Bucket
	key      string
	sourceID string
	closed   bool
	metrics  *metrics.BackendMetrics
}

// OpenBucketReader opens bucketURL (a gocloud bucket URL, e.g.
// "s3://my-bucket") and returns a Reader over the single object named by
// key within it.
func OpenBucketReader(ctx context.Context, bucketURL, key string, opts ...BucketOption) (*BucketReader, error) {
	cfg := bucketConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Op: "OpenBucketReader", Err: err}
	}
	return &BucketReader{bucket: bucket, key: key, sourceID: bucketURL + "/" + key, metrics: cfg.metrics}, nil
}

func classifyBucketErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if kind, ok := classifyByStatusCode(err); ok {
		return &Error{Kind: kind, Op: op, Err: err}
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return &Error{Kind: KindNotFound, Op: op, Err: err}
	}
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// classifyByStatusCode extracts an HTTP-equivalent status code from the
// provider-specific error types gocloud's drivers wrap (S3's
// awserr.RequestFailure, Azure's azcore.ResponseError, and GCS's
// googleapi.Error) and maps it to a Kind.
func classifyByStatusCode(err error) (Kind, bool) {
	code, ok := 0, false

	var awsErr awserr.RequestFailure
	var azureErr *azcore.ResponseError
	var gcsErr *googleapi.Error
	switch {
	case errors.As(err, &awsErr):
		code, ok = awsErr.StatusCode(), true
	case errors.As(err, &azureErr):
		code, ok = azureErr.StatusCode, true
	case errors.As(err, &gcsErr):
		code, ok = gcsErr.Code, true
	}
	if !ok {
		return 0, false
	}

	switch {
	case code == http.StatusNotFound:
		return KindNotFound, true
	case code == http.StatusTooManyRequests || code >= 500:
		return KindTransient, true
	default:
		return KindFatal, true
	}
}

func (r *BucketReader) ReadRange(ctx context.Context, offset uint64, target []byte) (int, error) {
	if r.closed {
		return 0, &Error{Kind: KindClosed, Op: "BucketReader.ReadRange"}
	}
	if len(target) == 0 {
		return 0, nil
	}
	var tracker *metrics.Tracker
	if r.metrics != nil {
		tracker = r.metrics.StartRequest(r.sourceID)
	}

	reader, err := r.bucket.NewRangeReader(ctx, r.key, int64(offset), int64(len(target)), nil)
	if err != nil {
		if tracker != nil {
			tracker.Finish("error")
		}
		return 0, classifyBucketErr("BucketReader.ReadRange", err)
	}
	defer reader.Close()

	n := 0
	for n < len(target) {
		m, err := reader.Read(target[n:])
		n += m
		if err != nil {
			if err.Error() == "EOF" {
				break
			}
			if tracker != nil {
				tracker.Finish("error")
			}
			return n, classifyBucketErr("BucketReader.ReadRange", err)
		}
	}
	if tracker != nil {
		tracker.Finish("ok")
	}
	return n, nil
}

func (r *BucketReader) Size(ctx context.Context) (uint64, bool, error) {
	attrs, err := r.bucket.Attributes(ctx, r.key)
	if err != nil {
		return 0, false, classifyBucketErr("BucketReader.Size", err)
	}
	return uint64(attrs.Size), true, nil
}

func (r *BucketReader) SourceID() string {
	return r.sourceID
}

func (r *BucketReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.bucket.Close()
}
