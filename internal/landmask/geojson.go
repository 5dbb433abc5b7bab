package landmask

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LoadGeoJSON reads the Polygon and MultiPolygon features of a GeoJSON
// FeatureCollection.
func LoadGeoJSON(r io.Reader) (*Index, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read coastline geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse coastline geojson: %w", err)
	}
	geoms := make([]orb.Geometry, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		}
	}
	return NewIndex(geoms...), nil
}

// Load reads a coastline file, choosing the reader by extension: ".fgb" is
// FlatGeobuf, ".geojson" and ".json" are GeoJSON. b bounds a FlatGeobuf read
// and is ignored for GeoJSON.
func Load(path string, b orb.Bound) (*Index, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fgb":
		return LoadFlatGeobuf(path, b)
	case ".geojson", ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open coastline %s: %w", path, err)
		}
		defer f.Close()
		return LoadGeoJSON(f)
	default:
		return nil, fmt.Errorf("coastline %s: unknown format %q", path, filepath.Ext(path))
	}
}
