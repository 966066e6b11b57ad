// Package rangeio provides a uniform "read N bytes at offset O" contract
// over heterogeneous storage backends (local file, HTTP, and gocloud-backed
// buckets for S3/Azure/GCS), plus decorators that add in-memory caching,
// block-aligned coalescing, and header pre-buffering on top of any backend.
package rangeio

import (
	"context"
	"fmt"
)

// Range is an immutable, hashable byte-range key: offset and length in bytes.
// A zero-length Range addresses an empty read.
type Range struct {
	Offset uint64
	Length uint32
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Offset, uint64(r.Offset)+uint64(r.Length))
}

// End returns the exclusive end offset of the range.
func (r Range) End() uint64 {
	return r.Offset + uint64(r.Length)
}

// Reader is the uniform range-read contract every backend and decorator in
// this package implements. Reads past end-of-archive return a short count
// with a nil error; a short count paired with a non-nil error is fatal.
type Reader interface {
	// ReadRange fills target with up to len(target) bytes starting at
	// offset and returns the count actually read. Implementations never
	// return a partial read silently truncated mid-archive: a short read
	// only happens at end-of-data.
	ReadRange(ctx context.Context, offset uint64, target []byte) (int, error)

	// Size returns the total size of the underlying object, when known.
	Size(ctx context.Context) (uint64, bool, error)

	// SourceID is a stable identifier for the underlying object, derived
	// from its URI/path. Used as the cache key namespace so that readers
	// constructed independently but pointed at the same archive share
	// cache entries.
	SourceID() string

	// Close releases backend resources. Idempotent.
	Close() error
}

// ReadFull reads the exact range [offset, offset+len(target)) from r,
// treating any short read as KindFatal (the caller asked for bytes that
// should exist within the archive).
func ReadFull(ctx context.Context, r Reader, offset uint64, target []byte) error {
	n, err := r.ReadRange(ctx, offset, target)
	if err != nil {
		return err
	}
	if n != len(target) {
		return &Error{Kind: KindFatal, Op: "ReadFull", Err: fmt.Errorf("short read: got %d of %d bytes at offset %d", n, len(target), offset)}
	}
	return nil
}

// ReadRangeAlloc allocates a buffer of rng.Length and fills it via r.
func ReadRangeAlloc(ctx context.Context, r Reader, rng Range) ([]byte, error) {
	if rng.Length == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, rng.Length)
	if err := ReadFull(ctx, r, rng.Offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
