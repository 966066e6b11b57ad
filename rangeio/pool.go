package rangeio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tilebyte/pmtiles/internal/metrics"
)

// Kind selects which of the pool's two independent size-classed arenas a
// buffer is drawn from. Direct buffers are meant for syscall-facing I/O
// targets (positioned reads, HTTP response bodies); Heap buffers are
// general decode/decompress scratch space. Go does not distinguish
// off-heap memory the way some runtimes do, but keeping the arenas and
// their entry-count bounds separate lets callers reason about (and size)
// the two hot paths independently.
type Kind int

const (
	Heap Kind = iota
	Direct
)

func (k Kind) String() string {
	if k == Direct {
		return "direct"
	}
	return "heap"
}

// DefaultBlockSize is the default rounding granularity for pooled buffer
// capacities.
const DefaultBlockSize = 8192

// Stats is a snapshot of a BufferPool's lifetime counters.
type Stats struct {
	Created   uint64
	Reused    uint64
	Returned  uint64
	Discarded uint64
	PoolSize  int
	PoolBytes int64
}

type pooledBuffer struct {
	storage []byte
}

type arena struct {
	mu       sync.Mutex
	items    []*pooledBuffer
	maxItems int
	bytes    int64
}

// BufferPool is a bucketed, thread-safe allocator of reusable byte
// buffers for hot I/O paths. The readers and decoders in this module
// allocate their own buffers and do not borrow from a BufferPool.
type BufferPool struct {
	blockSize int
	direct    arena
	heap      arena
	metrics   *metrics.PoolMetrics

	created   atomic.Uint64
	reused    atomic.Uint64
	returned  atomic.Uint64
	discarded atomic.Uint64
}

// PoolOption configures a BufferPool at construction.
type PoolOption func(*poolConfig)

type poolConfig struct {
	blockSize       int
	maxDirectBuffers int
	maxHeapBuffers   int
	metrics         *metrics.PoolMetrics
}

// WithBlockSize sets the rounding granularity for pooled buffer capacities.
func WithBlockSize(n int) PoolOption {
	return func(c *poolConfig) { c.blockSize = n }
}

// WithMaxBuffers bounds the entry count of each of the two arenas.
func WithMaxBuffers(direct, heap int) PoolOption {
	return func(c *poolConfig) {
		c.maxDirectBuffers = direct
		c.maxHeapBuffers = heap
	}
}

// WithPoolMetrics wires Prometheus instrumentation into the pool.
func WithPoolMetrics(m *metrics.PoolMetrics) PoolOption {
	return func(c *poolConfig) { c.metrics = m }
}

// NewBufferPool constructs a pool. All numeric options must be positive.
func NewBufferPool(opts ...PoolOption) (*BufferPool, error) {
	cfg := poolConfig{
		blockSize:        DefaultBlockSize,
		maxDirectBuffers: 256,
		maxHeapBuffers:   256,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.blockSize <= 0 {
		return nil, fmt.Errorf("rangeio: block size must be positive, got %d", cfg.blockSize)
	}
	if cfg.maxDirectBuffers <= 0 || cfg.maxHeapBuffers <= 0 {
		return nil, fmt.Errorf("rangeio: max buffer counts must be positive")
	}
	p := &BufferPool{blockSize: cfg.blockSize, metrics: cfg.metrics}
	p.direct.maxItems = cfg.maxDirectBuffers
	p.heap.maxItems = cfg.maxHeapBuffers
	return p, nil
}

// Handle is a scoped acquisition from a BufferPool. Bytes() returns a view
// of exactly the requested length backed by a (possibly larger) pooled
// region. Release returns the storage to the pool; it is safe to call more
// than once.
type Handle struct {
	pool     *BufferPool
	kind     Kind
	storage  *pooledBuffer
	released bool
	view     []byte
}

// Bytes returns the zero-positioned, exactly-sized view for this borrow.
func (h *Handle) Bytes() []byte { return h.view }

// Release returns the underlying storage to its pool.
func (h *Handle) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	h.pool.release(h.kind, h.storage)
}

func roundUp(n, block int) int {
	if n%block == 0 {
		return n
	}
	return (n/block + 1) * block
}

// borrow finds the smallest pooled buffer with capacity >= want, or nil.
func (a *arena) borrow(want int) *pooledBuffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	best := -1
	for i, b := range a.items {
		if cap(b.storage) >= want && (best == -1 || cap(a.items[best].storage) > cap(b.storage)) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	b := a.items[best]
	a.items = append(a.items[:best], a.items[best+1:]...)
	a.bytes -= int64(cap(b.storage))
	return b
}

// put returns a buffer to the arena, evicting the smallest entry smaller
// than it if the arena is full; discards (returns false) otherwise.
func (a *arena) put(b *pooledBuffer, blockSize int) bool {
	if cap(b.storage) < blockSize {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.items) < a.maxItems {
		a.items = append(a.items, b)
		a.bytes += int64(cap(b.storage))
		return true
	}
	// full: evict the smallest pooled buffer strictly smaller than b.
	smallest := -1
	for i, existing := range a.items {
		if cap(existing.storage) < cap(b.storage) {
			if smallest == -1 || cap(a.items[i].storage) < cap(a.items[smallest].storage) {
				smallest = i
			}
		}
	}
	if smallest == -1 {
		return false
	}
	a.bytes -= int64(cap(a.items[smallest].storage))
	a.items[smallest] = b
	a.bytes += int64(cap(b.storage))
	return true
}

func (a *arena) snapshot() (count int, bytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items), a.bytes
}

func (a *arena) clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = nil
	a.bytes = 0
}

// Borrow returns a Handle with capacity >= minCapacity whose visible
// length is exactly minCapacity.
func (p *BufferPool) Borrow(kind Kind, minCapacity int) (*Handle, error) {
	if minCapacity < 0 {
		return nil, fmt.Errorf("rangeio: negative capacity requested: %d", minCapacity)
	}
	a := p.arenaFor(kind)
	want := roundUp(minCapacity, p.blockSize)
	if minCapacity == 0 {
		want = 0
	}
	if b := a.borrow(want); b != nil {
		p.reused.Add(1)
		p.reportEvent("reused")
		p.reportSize()
		return &Handle{pool: p, kind: kind, storage: b, view: b.storage[:minCapacity]}, nil
	}
	p.created.Add(1)
	p.reportEvent("created")
	b := &pooledBuffer{storage: make([]byte, want)}
	return &Handle{pool: p, kind: kind, storage: b, view: b.storage[:minCapacity]}, nil
}

func (p *BufferPool) arenaFor(kind Kind) *arena {
	if kind == Direct {
		return &p.direct
	}
	return &p.heap
}

func (p *BufferPool) release(kind Kind, b *pooledBuffer) {
	p.returned.Add(1)
	p.reportEvent("returned")
	a := p.arenaFor(kind)
	if !a.put(b, p.blockSize) {
		p.discarded.Add(1)
		p.reportEvent("discarded")
	}
	p.reportSize()
}

func (p *BufferPool) reportEvent(event string) {
	if p.metrics != nil {
		p.metrics.RecordEvent(event)
	}
}

func (p *BufferPool) reportSize() {
	if p.metrics == nil {
		return
	}
	stats := p.Stats()
	p.metrics.Update(stats.PoolSize, stats.PoolBytes)
}

// Stats returns a point-in-time snapshot of pool counters.
func (p *BufferPool) Stats() Stats {
	dCount, dBytes := p.direct.snapshot()
	hCount, hBytes := p.heap.snapshot()
	return Stats{
		Created:   p.created.Load(),
		Reused:    p.reused.Load(),
		Returned:  p.returned.Load(),
		Discarded: p.discarded.Load(),
		PoolSize:  dCount + hCount,
		PoolBytes: dBytes + hBytes,
	}
}

// Clear empties both arenas. Outstanding handles remain valid; releasing
// one after Clear returns its storage to the emptied pool as usual.
func (p *BufferPool) Clear() {
	p.direct.clear()
	p.heap.clear()
	p.reportSize()
}
