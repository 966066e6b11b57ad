package pmtiles

import (
	"encoding/json"
	"fmt"
)

// Metadata is the parsed JSON metadata region of an archive: free-form
// tileset attributes (name, description, vector_layers, attribution,
// version, ...) the archive's author chose to embed.
type Metadata map[string]any

// DecodeMetadata decompresses and parses the JSON metadata region per the
// header's internal_compression.
func DecodeMetadata(raw []byte, compression Compression) (Metadata, error) {
	jsonBytes, err := decompress(raw, compression)
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(jsonBytes, &m); err != nil {
		return nil, &Error{Kind: KindInvalidHeader, Op: "DecodeMetadata", Err: fmt.Errorf("parsing metadata json: %w", err)}
	}
	return m, nil
}

// EncodeMetadata serializes and compresses m, for building test fixtures
// and archive-inspection round trips.
func EncodeMetadata(m Metadata, compression Compression) ([]byte, error) {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return compress(jsonBytes, compression)
}

// StringField returns m[key] as a string, or "" if absent or not a string.
func (m Metadata) StringField(key string) string {
	v, ok := m[key].(string)
	if !ok {
		return ""
	}
	return v
}
