package rangeio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tilebyte/pmtiles/internal/metrics"
)

// FileOption configures a FileReader at construction.
type FileOption func(*fileConfig)

type fileConfig struct {
	metrics *metrics.BackendMetrics
}

// WithFileMetrics wires Prometheus instrumentation into the reader.
func WithFileMetrics(m *metrics.BackendMetrics) FileOption {
	return func(c *fileConfig) { c.metrics = m }
}

// FileReader is a Reader backed by a positioned-read file handle.
type FileReader struct {
	f       *os.File
	path    string
	size    uint64
	closed  bool
	metrics *metrics.BackendMetrics
}

// NewFileReader opens path for positioned reads. size() is always known.
func NewFileReader(path string, opts ...FileOption) (*FileReader, error) {
	cfg := fileConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Kind: KindNotFound, Op: "NewFileReader", Err: err}
		}
		return nil, &Error{Kind: KindFatal, Op: "NewFileReader", Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &Error{Kind: KindFatal, Op: "NewFileReader", Err: err}
	}
	return &FileReader{f: f, path: path, size: uint64(info.Size()), metrics: cfg.metrics}, nil
}

func (r *FileReader) ReadRange(_ context.Context, offset uint64, target []byte) (int, error) {
	if r.closed {
		return 0, &Error{Kind: KindClosed, Op: "FileReader.ReadRange"}
	}
	if len(target) == 0 {
		return 0, nil
	}
	var tracker *metrics.Tracker
	if r.metrics != nil {
		tracker = r.metrics.StartRequest(r.path)
	}
	n, err := r.f.ReadAt(target, int64(offset))
	if err != nil && errors.Is(err, io.EOF) {
		if tracker != nil {
			tracker.Finish("ok")
		}
		return n, nil
	}
	if err != nil {
		if tracker != nil {
			tracker.Finish("error")
		}
		return n, &Error{Kind: KindFatal, Op: "FileReader.ReadRange", Err: err}
	}
	if tracker != nil {
		tracker.Finish("ok")
	}
	return n, nil
}

func (r *FileReader) Size(context.Context) (uint64, bool, error) {
	return r.size, true, nil
}

func (r *FileReader) SourceID() string {
	return fmt.Sprintf("file://%s", r.path)
}

func (r *FileReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.f.Close()
}
