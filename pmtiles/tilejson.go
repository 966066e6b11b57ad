package pmtiles

import "encoding/json"

// BuildTileJSON projects a parsed Header and Metadata into a TileJSON 3.0.0
// document, addressing tiles under tileURL (the caller's own template base,
// with no network/server machinery implied here). Pure function: no I/O.
func BuildTileJSON(header Header, metadata Metadata, tileURL string) ([]byte, error) {
	doc := make(map[string]any)

	ext := ""
	if base := header.TileType.String(); base != "" && base != "unknown" {
		if base == "jpg" {
			ext = ".jpg"
		} else {
			ext = "." + base
		}
	}

	doc["tilejson"] = "3.0.0"
	doc["scheme"] = "xyz"
	doc["tiles"] = []string{tileURL + "/{z}/{x}/{y}" + ext}
	if metadata != nil {
		if v, ok := metadata["vector_layers"]; ok {
			doc["vector_layers"] = v
		}
		if v := metadata.StringField("attribution"); v != "" {
			doc["attribution"] = v
		}
		if v := metadata.StringField("description"); v != "" {
			doc["description"] = v
		}
		if v := metadata.StringField("name"); v != "" {
			doc["name"] = v
		}
		if v := metadata.StringField("version"); v != "" {
			doc["version"] = v
		}
	}

	minLon, minLat, maxLon, maxLat := header.Bounds()
	centerLon, centerLat, centerZoom := header.Center()
	doc["bounds"] = []float64{minLon, minLat, maxLon, maxLat}
	doc["center"] = []any{centerLon, centerLat, centerZoom}
	doc["minzoom"] = header.MinZoom
	doc["maxzoom"] = header.MaxZoom

	return json.Marshal(doc)
}
