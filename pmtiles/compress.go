package pmtiles

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// decompress decompresses src per the given Compression, returning the raw
// bytes. NoCompression is a no-op copy-free pass-through.
func decompress(src []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression:
		return src, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, &Error{Kind: KindCorruptTile, Op: "decompress", Err: err}
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, &Error{Kind: KindCorruptTile, Op: "decompress", Err: err}
		}
		return out, nil
	case Brotli:
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(src)))
		if err != nil {
			return nil, &Error{Kind: KindCorruptTile, Op: "decompress", Err: err}
		}
		return out, nil
	case Zstd:
		dec, err := zstd.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, &Error{Kind: KindCorruptTile, Op: "decompress", Err: err}
		}
		defer dec.Close()
		out, err := io.ReadAll(dec)
		if err != nil {
			return nil, &Error{Kind: KindCorruptTile, Op: "decompress", Err: err}
		}
		return out, nil
	default:
		return nil, &Error{Kind: KindUnsupportedCompression, Op: "decompress", Err: fmt.Errorf("compression value %d not recognized", c)}
	}
}

// compress compresses src per the given Compression. Used by tests and by
// metadata/directory encoders that need to build wire-format fixtures.
func compress(src []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression:
		return src, nil
	case Gzip:
		var b bytes.Buffer
		w, err := gzip.NewWriterLevel(&b, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(src); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	case Brotli:
		var b bytes.Buffer
		w := brotli.NewWriterLevel(&b, brotli.BestCompression)
		if _, err := w.Write(src); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	case Zstd:
		var b bytes.Buffer
		w, err := zstd.NewWriter(&b)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(src); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	default:
		return nil, &Error{Kind: KindUnsupportedCompression, Op: "compress", Err: fmt.Errorf("compression value %d not recognized", c)}
	}
}
