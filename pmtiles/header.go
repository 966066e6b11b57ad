package pmtiles

import (
	"encoding/binary"
	"fmt"
)

// Compression identifies the compression algorithm applied to tiles,
// metadata, or directories within an archive.
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression      Compression = 1
	Gzip               Compression = 2
	Brotli             Compression = 3
	Zstd               Compression = 4
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// TileType is the format of individual tile payloads in the archive.
type TileType uint8

const (
	UnknownTileType TileType = 0
	Mvt             TileType = 1
	Png             TileType = 2
	Jpeg            TileType = 3
	Webp            TileType = 4
	Avif            TileType = 5
)

func (t TileType) String() string {
	switch t {
	case Mvt:
		return "mvt"
	case Png:
		return "png"
	case Jpeg:
		return "jpg"
	case Webp:
		return "webp"
	case Avif:
		return "avif"
	default:
		return "unknown"
	}
}

// ContentType returns the MIME type for t, if known.
func (t TileType) ContentType() (string, bool) {
	switch t {
	case Mvt:
		return "application/x-protobuf", true
	case Png:
		return "image/png", true
	case Jpeg:
		return "image/jpeg", true
	case Webp:
		return "image/webp", true
	case Avif:
		return "image/avif", true
	default:
		return "", false
	}
}

// HeaderLenBytes is the fixed size of the PMTiles v3 footer.
const HeaderLenBytes = 127

// MaxZoomValue is the highest zoom value the wire format's u8 field can
// represent in a well-formed archive.
const MaxZoomValue = 30

// Header is the decoded 127-byte PMTiles v3 footer.
type Header struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// EncodeHeader serializes h to its 127-byte wire representation.
func EncodeHeader(h Header) []byte {
	b := make([]byte, HeaderLenBytes)
	copy(b[0:7], "PMTiles")
	b[7] = 3
	binary.LittleEndian.PutUint64(b[8:16], h.RootOffset)
	binary.LittleEndian.PutUint64(b[16:24], h.RootLength)
	binary.LittleEndian.PutUint64(b[24:32], h.MetadataOffset)
	binary.LittleEndian.PutUint64(b[32:40], h.MetadataLength)
	binary.LittleEndian.PutUint64(b[40:48], h.LeafDirectoryOffset)
	binary.LittleEndian.PutUint64(b[48:56], h.LeafDirectoryLength)
	binary.LittleEndian.PutUint64(b[56:64], h.TileDataOffset)
	binary.LittleEndian.PutUint64(b[64:72], h.TileDataLength)
	binary.LittleEndian.PutUint64(b[72:80], h.AddressedTilesCount)
	binary.LittleEndian.PutUint64(b[80:88], h.TileEntriesCount)
	binary.LittleEndian.PutUint64(b[88:96], h.TileContentsCount)
	if h.Clustered {
		b[96] = 0x1
	}
	b[97] = uint8(h.InternalCompression)
	b[98] = uint8(h.TileCompression)
	b[99] = uint8(h.TileType)
	b[100] = h.MinZoom
	b[101] = h.MaxZoom
	binary.LittleEndian.PutUint32(b[102:106], uint32(h.MinLonE7))
	binary.LittleEndian.PutUint32(b[106:110], uint32(h.MinLatE7))
	binary.LittleEndian.PutUint32(b[110:114], uint32(h.MaxLonE7))
	binary.LittleEndian.PutUint32(b[114:118], uint32(h.MaxLatE7))
	b[118] = h.CenterZoom
	binary.LittleEndian.PutUint32(b[119:123], uint32(h.CenterLonE7))
	binary.LittleEndian.PutUint32(b[123:127], uint32(h.CenterLatE7))
	return b
}

// DecodeHeader parses the 127-byte PMTiles v3 footer out of d, validating
// the magic, version, length, and the zoom/bound invariants.
func DecodeHeader(d []byte) (Header, error) {
	var h Header
	if len(d) < HeaderLenBytes {
		return h, &Error{Kind: KindInvalidHeader, Op: "DecodeHeader", Err: fmt.Errorf("footer is %d bytes, need %d", len(d), HeaderLenBytes)}
	}
	if string(d[0:7]) != "PMTiles" {
		return h, &Error{Kind: KindInvalidHeader, Op: "DecodeHeader", Err: fmt.Errorf("magic number mismatch: not a PMTiles archive")}
	}
	specVersion := d[7]
	if specVersion != 3 {
		return h, &Error{Kind: KindInvalidHeader, Op: "DecodeHeader", Err: fmt.Errorf("archive is spec version %d, only version 3 is supported", specVersion)}
	}

	h.SpecVersion = specVersion
	h.RootOffset = binary.LittleEndian.Uint64(d[8:16])
	h.RootLength = binary.LittleEndian.Uint64(d[16:24])
	h.MetadataOffset = binary.LittleEndian.Uint64(d[24:32])
	h.MetadataLength = binary.LittleEndian.Uint64(d[32:40])
	h.LeafDirectoryOffset = binary.LittleEndian.Uint64(d[40:48])
	h.LeafDirectoryLength = binary.LittleEndian.Uint64(d[48:56])
	h.TileDataOffset = binary.LittleEndian.Uint64(d[56:64])
	h.TileDataLength = binary.LittleEndian.Uint64(d[64:72])
	h.AddressedTilesCount = binary.LittleEndian.Uint64(d[72:80])
	h.TileEntriesCount = binary.LittleEndian.Uint64(d[80:88])
	h.TileContentsCount = binary.LittleEndian.Uint64(d[88:96])
	h.Clustered = d[96] == 0x1
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom = d[100]
	h.MaxZoom = d[101]
	h.MinLonE7 = int32(binary.LittleEndian.Uint32(d[102:106]))
	h.MinLatE7 = int32(binary.LittleEndian.Uint32(d[106:110]))
	h.MaxLonE7 = int32(binary.LittleEndian.Uint32(d[110:114]))
	h.MaxLatE7 = int32(binary.LittleEndian.Uint32(d[114:118]))
	h.CenterZoom = d[118]
	h.CenterLonE7 = int32(binary.LittleEndian.Uint32(d[119:123]))
	h.CenterLatE7 = int32(binary.LittleEndian.Uint32(d[123:127]))

	if err := validateHeader(h); err != nil {
		return Header{}, err
	}
	return h, nil
}

func validateHeader(h Header) error {
	if h.MaxZoom > MaxZoomValue || h.MinZoom > MaxZoomValue {
		return &Error{Kind: KindInvalidHeader, Op: "DecodeHeader", Err: fmt.Errorf("zoom out of [0,%d]: min=%d max=%d", MaxZoomValue, h.MinZoom, h.MaxZoom)}
	}
	if h.MaxZoom < h.MinZoom {
		return &Error{Kind: KindInvalidHeader, Op: "DecodeHeader", Err: fmt.Errorf("max_zoom %d < min_zoom %d", h.MaxZoom, h.MinZoom)}
	}
	if h.MinLonE7 > h.MaxLonE7 {
		return &Error{Kind: KindInvalidHeader, Op: "DecodeHeader", Err: fmt.Errorf("min_lon %d > max_lon %d", h.MinLonE7, h.MaxLonE7)}
	}
	if h.MinLatE7 > h.MaxLatE7 {
		return &Error{Kind: KindInvalidHeader, Op: "DecodeHeader", Err: fmt.Errorf("min_lat %d > max_lat %d", h.MinLatE7, h.MaxLatE7)}
	}
	return nil
}

// Bounds returns the archive's geographic bounds in degrees.
func (h Header) Bounds() (minLon, minLat, maxLon, maxLat float64) {
	return float64(h.MinLonE7) / 1e7, float64(h.MinLatE7) / 1e7, float64(h.MaxLonE7) / 1e7, float64(h.MaxLatE7) / 1e7
}

// Center returns the archive's declared center in degrees plus zoom.
func (h Header) Center() (lon, lat float64, zoom uint8) {
	return float64(h.CenterLonE7) / 1e7, float64(h.CenterLatE7) / 1e7, h.CenterZoom
}
