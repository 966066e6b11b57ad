// Command pmtilecat is a thin CLI over the pmtiles/rangeio core: it opens
// an archive by path, HTTP(S) URL, or bucket URI, and inspects its header,
// metadata, or individual tiles. It owns no logic beyond flag parsing and
// formatting; everything else runs through the public reader API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/tilebyte/pmtiles/pmtiles"
	"github.com/tilebyte/pmtiles/rangeio"
)

type globalFlags struct {
	CacheBlockSize     int   `help:"Block size in bytes for the byte-range cache (0 disables alignment)." default:"65536"`
	HeaderPrefetchSize int   `help:"Bytes to prefetch and serve the footer from memory (0 disables)." default:"127"`
	CacheMaxBytes      int64 `help:"Maximum byte-range cache size in bytes (<=0 is unbounded)." default:"67108864"`
}

type cli struct {
	globalFlags

	Header   headerCmd   `cmd:"" help:"Print the archive's parsed footer."`
	Metadata metadataCmd `cmd:"" help:"Print the archive's JSON metadata."`
	Tile     tileCmd     `cmd:"" help:"Fetch a single tile by z/x/y and write it to stdout."`
	Scan     scanCmd     `cmd:"" help:"Walk every addressed tile at a zoom level."`
}

type headerCmd struct {
	Archive string `arg:"" help:"Archive path, URL, or bucket URI."`
}

type metadataCmd struct {
	Archive string `arg:"" help:"Archive path, URL, or bucket URI."`
}

type tileCmd struct {
	Archive string `arg:"" help:"Archive path, URL, or bucket URI."`
	Z       uint8  `arg:"" help:"Zoom level."`
	X       uint32 `arg:"" help:"Tile column."`
	Y       uint32 `arg:"" help:"Tile row."`
}

type scanCmd struct {
	Archive string `arg:"" help:"Archive path, URL, or bucket URI."`
	Zoom    uint8  `arg:"" help:"Zoom level to enumerate."`
}

func (g globalFlags) openReader(ctx context.Context, uri string) (*pmtiles.PMTilesReader, error) {
	backend, err := rangeio.Open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", uri, err)
	}

	var cachingOpts []rangeio.CachingOption
	if g.HeaderPrefetchSize > 0 {
		cachingOpts = append(cachingOpts, rangeio.WithHeaderPrefetch(g.HeaderPrefetchSize))
	}
	if g.CacheBlockSize > 0 {
		cachingOpts = append(cachingOpts, rangeio.WithBlockAlignment(uint64(g.CacheBlockSize)))
	}
	cachingOpts = append(cachingOpts, rangeio.WithCacheMaxBytes(g.CacheMaxBytes))

	cached, err := rangeio.NewCachingReader(ctx, backend, backend.SourceID(), cachingOpts...)
	if err != nil {
		return nil, fmt.Errorf("wrapping %s in a caching reader: %w", uri, err)
	}

	reader, err := pmtiles.Open(ctx, cached)
	if err != nil {
		return nil, fmt.Errorf("parsing header for %s: %w", uri, err)
	}
	return reader, nil
}

func (c *headerCmd) Run(g *globalFlags) error {
	ctx := context.Background()
	r, err := g.openReader(ctx, c.Archive)
	if err != nil {
		return err
	}
	defer r.Close()

	h := r.Header()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"spec_version":          h.SpecVersion,
		"min_zoom":              h.MinZoom,
		"max_zoom":              h.MaxZoom,
		"tile_type":             h.TileType.String(),
		"tile_compression":      h.TileCompression.String(),
		"internal_compression":  h.InternalCompression.String(),
		"addressed_tiles_count": h.AddressedTilesCount,
		"tile_entries_count":    h.TileEntriesCount,
		"tile_contents_count":   h.TileContentsCount,
		"clustered":             h.Clustered,
	})
}

func (c *metadataCmd) Run(g *globalFlags) error {
	ctx := context.Background()
	r, err := g.openReader(ctx, c.Archive)
	if err != nil {
		return err
	}
	defer r.Close()

	meta, err := r.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("reading metadata: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func (c *tileCmd) Run(g *globalFlags) error {
	ctx := context.Background()
	r, err := g.openReader(ctx, c.Archive)
	if err != nil {
		return err
	}
	defer r.Close()

	tile, found, err := r.GetTileZXY(ctx, c.Z, c.X, c.Y)
	if err != nil {
		return fmt.Errorf("fetching tile %d/%d/%d: %w", c.Z, c.X, c.Y, err)
	}
	if !found {
		return fmt.Errorf("no tile at %d/%d/%d", c.Z, c.X, c.Y)
	}
	fmt.Fprintf(os.Stderr, "%s\n", humanize.Bytes(uint64(len(tile))))
	_, err = os.Stdout.Write(tile)
	return err
}

func (c *scanCmd) Run(g *globalFlags) error {
	ctx := context.Background()
	r, err := g.openReader(ctx, c.Archive)
	if err != nil {
		return err
	}
	defer r.Close()

	total := int64(r.Header().AddressedTilesCount)
	bar := progressbar.Default(total, fmt.Sprintf("scanning zoom %d", c.Zoom))

	out, errc := r.TileIndicesAtZoom(ctx, c.Zoom)
	count := 0
	for idx := range out {
		count++
		bar.Add(1)
		fmt.Fprintf(os.Stdout, "%d/%d/%d\n", idx[0], idx[1], idx[2])
	}
	if err := <-errc; err != nil {
		return fmt.Errorf("scanning zoom %d: %w", c.Zoom, err)
	}
	fmt.Fprintf(os.Stderr, "%d tiles at zoom %d\n", count, c.Zoom)
	return nil
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("pmtilecat"),
		kong.Description("Inspect PMTiles v3 archives over local, HTTP, or bucket storage."),
	)
	err := ctx.Run(&c.globalFlags)
	ctx.FatalIfErrorf(err)
}
