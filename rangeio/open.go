package rangeio

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Open dispatches uri to the appropriate backend constructor: a local
// filesystem path, an http(s):// URL, or a gocloud bucket URL
// (s3://bucket/key, azblob://bucket/key, gs://bucket/key).
func Open(ctx context.Context, uri string, httpOpts ...HTTPOption) (Reader, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return NewHTTPReader(uri, httpOpts...)
	case strings.HasPrefix(uri, "file://"):
		return NewFileReader(strings.TrimPrefix(uri, "file://"))
	case strings.HasPrefix(uri, "s3://"), strings.HasPrefix(uri, "azblob://"), strings.HasPrefix(uri, "gs://"):
		bucketURL, key, err := splitBucketURI(uri)
		if err != nil {
			return nil, err
		}
		return OpenBucketReader(ctx, bucketURL, key)
	default:
		return NewFileReader(uri)
	}
}

// splitBucketURI separates a "scheme://bucket/key/path" archive URI into
// the bucket URL gocloud's blob.OpenBucket expects ("scheme://bucket")
// and the object key within it.
func splitBucketURI(uri string) (bucketURL, key string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return "", "", &Error{Kind: KindFatal, Op: "Open", Err: fmt.Errorf("malformed bucket uri %q", uri)}
	}
	bucket, objectKey, ok := strings.Cut(rest, "/")
	if !ok || objectKey == "" {
		return "", "", &Error{Kind: KindFatal, Op: "Open", Err: fmt.Errorf("bucket uri %q has no object key", uri)}
	}
	return scheme + "://" + bucket, path.Clean(objectKey), nil
}
