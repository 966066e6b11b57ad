package pmtiles

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
)

// entryStride is the fixed record width of the packed in-memory directory:
// tile_id(8) + offset(8) + length(4) + run_length(4).
const entryStride = 24

// Entry is one directory record, materialized out of the packed buffer.
type Entry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// IsLeaf reports whether the entry points at a child directory rather than
// a tile.
func (e Entry) IsLeaf() bool { return e.RunLength == 0 }

// Covers reports whether tileID falls within this tile-entry's run.
func (e Entry) Covers(tileID uint64) bool {
	if e.RunLength == 0 {
		return false
	}
	return tileID >= e.TileID && tileID-e.TileID < uint64(e.RunLength)
}

// Directory is an ordered, immutable sequence of entries packed into a
// single contiguous buffer of fixed-stride records, giving O(1) indexed
// access and allocation-free binary search.
type Directory struct {
	buf   []byte
	count int
}

func newDirectory(count int) *Directory {
	return &Directory{buf: make([]byte, count*entryStride), count: count}
}

// Len returns the number of entries in the directory.
func (d *Directory) Len() int { return d.count }

func (d *Directory) recordOff(i int) int { return i * entryStride }

func (d *Directory) tileIDAt(i int) uint64 {
	o := d.recordOff(i)
	return binary.LittleEndian.Uint64(d.buf[o : o+8])
}

func (d *Directory) offsetAt(i int) uint64 {
	o := d.recordOff(i)
	return binary.LittleEndian.Uint64(d.buf[o+8 : o+16])
}

func (d *Directory) lengthAt(i int) uint32 {
	o := d.recordOff(i)
	return binary.LittleEndian.Uint32(d.buf[o+16 : o+20])
}

func (d *Directory) runLengthAt(i int) uint32 {
	o := d.recordOff(i)
	return binary.LittleEndian.Uint32(d.buf[o+20 : o+24])
}

func (d *Directory) setTileID(i int, v uint64) {
	o := d.recordOff(i)
	binary.LittleEndian.PutUint64(d.buf[o:o+8], v)
}

func (d *Directory) setOffset(i int, v uint64) {
	o := d.recordOff(i)
	binary.LittleEndian.PutUint64(d.buf[o+8:o+16], v)
}

func (d *Directory) setLength(i int, v uint32) {
	o := d.recordOff(i)
	binary.LittleEndian.PutUint32(d.buf[o+16:o+20], v)
}

func (d *Directory) setRunLength(i int, v uint32) {
	o := d.recordOff(i)
	binary.LittleEndian.PutUint32(d.buf[o+20:o+24], v)
}

// EntryAt materializes the i'th record as an Entry value.
func (d *Directory) EntryAt(i int) Entry {
	return Entry{
		TileID:    d.tileIDAt(i),
		Offset:    d.offsetAt(i),
		Length:    d.lengthAt(i),
		RunLength: d.runLengthAt(i),
	}
}

// Find locates the entry with the largest tile_id <= target, then tests
// whether it's a tile-entry run covering target or a leaf the caller must
// descend into.
func (d *Directory) Find(tileID uint64) (Entry, bool) {
	m, n := 0, d.count-1
	for m <= n {
		k := (m + n) >> 1
		kid := d.tileIDAt(k)
		switch {
		case tileID > kid:
			m = k + 1
		case tileID < kid:
			n = k - 1
		default:
			return d.EntryAt(k), true
		}
	}
	// m > n: n is the index of the largest tile_id < target, if any.
	if n < 0 {
		return Entry{}, false
	}
	e := d.EntryAt(n)
	if e.IsLeaf() {
		return e, true
	}
	if e.Covers(tileID) {
		return e, true
	}
	return Entry{}, false
}

// Entries materializes the full directory as a slice, for iteration and
// tests. Prefer EntryAt/Find on hot paths to avoid the allocation.
func (d *Directory) Entries() []Entry {
	out := make([]Entry, d.count)
	for i := range out {
		out[i] = d.EntryAt(i)
	}
	return out
}

// ValidateDirectory checks that the directory has at least one entry,
// strictly ascending tile_id, and no tile-entry run overlapping the next
// entry's tile_id.
func ValidateDirectory(d *Directory) error {
	if d.Len() == 0 {
		return &Error{Kind: KindInvalidDirectory, Op: "ValidateDirectory", Err: fmt.Errorf("directory has zero entries")}
	}
	for i := 0; i < d.Len()-1; i++ {
		cur, next := d.EntryAt(i), d.EntryAt(i+1)
		if cur.TileID >= next.TileID {
			return &Error{Kind: KindInvalidDirectory, Op: "ValidateDirectory", Err: fmt.Errorf("entry %d tile_id %d not less than entry %d tile_id %d", i, cur.TileID, i+1, next.TileID)}
		}
		if cur.RunLength > 0 && cur.TileID+uint64(cur.RunLength) > next.TileID {
			return &Error{Kind: KindInvalidDirectory, Op: "ValidateDirectory", Err: fmt.Errorf("entry %d run [%d,%d) overlaps entry %d at tile_id %d", i, cur.TileID, cur.TileID+uint64(cur.RunLength), i+1, next.TileID)}
		}
	}
	return nil
}

// DecodeDirectory decompresses and decodes a wire-format directory blob
// (delta-coded tile IDs, run lengths, lengths, and adjacency-coded offsets)
// directly into the packed in-memory form; no intermediate per-entry
// objects are allocated beyond the temporary decode cursor.
func DecodeDirectory(data []byte, compression Compression) (*Directory, error) {
	raw, err := decompress(data, compression)
	if err != nil {
		return nil, err
	}
	r := bufio.NewReader(bytes.NewReader(raw))

	numEntries, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, &Error{Kind: KindInvalidDirectory, Op: "DecodeDirectory", Err: fmt.Errorf("reading entry count: %w", err)}
	}
	dir := newDirectory(int(numEntries))

	var lastID uint64
	for i := uint64(0); i < numEntries; i++ {
		delta, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, &Error{Kind: KindInvalidDirectory, Op: "DecodeDirectory", Err: fmt.Errorf("reading tile_id delta %d: %w", i, err)}
		}
		lastID += delta
		dir.setTileID(int(i), lastID)
	}
	for i := uint64(0); i < numEntries; i++ {
		runLength, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, &Error{Kind: KindInvalidDirectory, Op: "DecodeDirectory", Err: fmt.Errorf("reading run_length %d: %w", i, err)}
		}
		dir.setRunLength(int(i), uint32(runLength))
	}
	for i := uint64(0); i < numEntries; i++ {
		length, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, &Error{Kind: KindInvalidDirectory, Op: "DecodeDirectory", Err: fmt.Errorf("reading length %d: %w", i, err)}
		}
		dir.setLength(int(i), uint32(length))
	}
	for i := uint64(0); i < numEntries; i++ {
		tmp, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, &Error{Kind: KindInvalidDirectory, Op: "DecodeDirectory", Err: fmt.Errorf("reading offset %d: %w", i, err)}
		}
		if i > 0 && tmp == 0 {
			dir.setOffset(int(i), dir.offsetAt(int(i-1))+uint64(dir.lengthAt(int(i-1))))
		} else {
			dir.setOffset(int(i), tmp-1)
		}
	}

	if numEntries > 0 {
		if err := ValidateDirectory(dir); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

// EncodeDirectory serializes entries to the wire format DecodeDirectory
// reads. Entries must already be sorted ascending by TileID; used by
// tests and by archive-inspection tooling that needs to rebuild fixtures.
func EncodeDirectory(entries []Entry, compression Compression) ([]byte, error) {
	var raw bytes.Buffer
	tmp := make([]byte, binary.MaxVarintLen64)

	n := binary.PutUvarint(tmp, uint64(len(entries)))
	raw.Write(tmp[:n])

	lastID := uint64(0)
	for _, e := range entries {
		n := binary.PutUvarint(tmp, e.TileID-lastID)
		raw.Write(tmp[:n])
		lastID = e.TileID
	}
	for _, e := range entries {
		n := binary.PutUvarint(tmp, uint64(e.RunLength))
		raw.Write(tmp[:n])
	}
	for _, e := range entries {
		n := binary.PutUvarint(tmp, uint64(e.Length))
		raw.Write(tmp[:n])
	}
	for i, e := range entries {
		var n int
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			n = binary.PutUvarint(tmp, 0)
		} else {
			n = binary.PutUvarint(tmp, e.Offset+1)
		}
		raw.Write(tmp[:n])
	}

	return compress(raw.Bytes(), compression)
}
