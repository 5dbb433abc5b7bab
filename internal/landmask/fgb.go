package landmask

import (
	"errors"
	"fmt"
	"io"

	flatgeobuf "github.com/flatgeobuf/flatgeobuf/src/go"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
)

// ErrNoIndex is returned for coastline files written without a spatial index.
var ErrNoIndex = errors.New("landmask: flatgeobuf file has no spatial index")

// LoadFlatGeobuf reads the land polygons of a FlatGeobuf file whose bounds
// intersect b, through the file's packed R-tree. A zero b loads the whole
// file.
func LoadFlatGeobuf(path string, b orb.Bound) (*Index, error) {
	fgb, err := flatgeobuf.New(path)
	if err != nil {
		return nil, fmt.Errorf("open coastline %s: %w", path, err)
	}
	h := fgb.Header()
	if h == nil {
		return nil, fmt.Errorf("open coastline %s: missing header", path)
	}
	if h.IndexNodeSize() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoIndex, path)
	}
	if h.FeaturesCount() == 0 {
		return NewIndex(), nil
	}
	if b == (orb.Bound{}) {
		if h.EnvelopeLength() < 4 {
			return nil, fmt.Errorf("%w: %s has no envelope", ErrNoIndex, path)
		}
		b = orb.Bound{
			Min: orb.Point{h.Envelope(0), h.Envelope(1)},
			Max: orb.Point{h.Envelope(2), h.Envelope(3)},
		}
	}

	features, err := fgb.Search(b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	if err != nil {
		return nil, fmt.Errorf("search coastline %s: %w", path, err)
	}
	geoms := make([]orb.Geometry, 0, len(features))
	for _, f := range features {
		var g flattypes.Geometry
		if f.Geometry(&g) == nil {
			continue
		}
		if poly := polygonsFromFGB(&g, h.GeometryType()); poly != nil {
			geoms = append(geoms, poly)
		}
	}
	return NewIndex(geoms...), nil
}

// polygonsFromFGB converts polygon and multipolygon geometries; other types
// return nil. The header type applies when the feature carries none.
func polygonsFromFGB(g *flattypes.Geometry, headerType flattypes.GeometryType) orb.Geometry {
	t := g.Type()
	if t == flattypes.GeometryTypeUnknown {
		t = headerType
	}
	switch t {
	case flattypes.GeometryTypePolygon:
		return polygonFromFGB(g)
	case flattypes.GeometryTypeMultiPolygon:
		if g.PartsLength() == 0 {
			return orb.MultiPolygon{polygonFromFGB(g)}
		}
		mp := make(orb.MultiPolygon, 0, g.PartsLength())
		for i := 0; i < g.PartsLength(); i++ {
			var part flattypes.Geometry
			if g.Parts(&part, i) {
				mp = append(mp, polygonFromFGB(&part))
			}
		}
		return mp
	}
	return nil
}

func polygonFromFGB(g *flattypes.Geometry) orb.Polygon {
	n := g.XyLength() / 2
	ends := []uint32{uint32(n)}
	if g.EndsLength() > 0 {
		ends = make([]uint32, g.EndsLength())
		for i := range ends {
			ends[i] = g.Ends(i)
		}
	}
	poly := make(orb.Polygon, 0, len(ends))
	start := uint32(0)
	for _, end := range ends {
		if int(end) > n {
			end = uint32(n)
		}
		ring := make(orb.Ring, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{g.Xy(int(2 * j)), g.Xy(int(2*j + 1))})
		}
		poly = append(poly, ring)
		start = end
	}
	return poly
}

// WriteFlatGeobuf writes points and polygons as an indexed FlatGeobuf layer.
func WriteFlatGeobuf(w io.Writer, name string, geoms []orb.Geometry) error {
	if len(geoms) == 0 {
		return errors.New("landmask: no geometries to write")
	}
	gt := fgbType(geoms[0])
	for _, g := range geoms[1:] {
		if fgbType(g) != gt {
			gt = flattypes.GeometryTypeUnknown
			break
		}
	}

	builder := flatbuffers.NewBuilder(4096)
	header := writer.NewHeader(builder)
	header.SetGeometryType(gt)
	if name != "" {
		header.SetName(name)
	}
	gen := &geometryGenerator{geoms: geoms}
	if _, err := writer.NewWriter(header, true, gen, nil).Write(w); err != nil {
		return fmt.Errorf("write flatgeobuf: %w", err)
	}
	return gen.err
}

func fgbType(g orb.Geometry) flattypes.GeometryType {
	switch g.(type) {
	case orb.Point:
		return flattypes.GeometryTypePoint
	case orb.Polygon:
		return flattypes.GeometryTypePolygon
	case orb.MultiPolygon:
		return flattypes.GeometryTypeMultiPolygon
	}
	return flattypes.GeometryTypeUnknown
}

type geometryGenerator struct {
	geoms []orb.Geometry
	next  int
	err   error
}

func (gg *geometryGenerator) Generate() *writer.Feature {
	for gg.next < len(gg.geoms) {
		g := gg.geoms[gg.next]
		gg.next++
		if g == nil {
			continue
		}
		builder := flatbuffers.NewBuilder(1024)
		fg := writer.NewGeometry(builder)
		switch v := g.(type) {
		case orb.Point:
			fg.SetType(flattypes.GeometryTypePoint)
			fg.SetXY([]float64{v[0], v[1]})
		case orb.Polygon:
			fg.SetType(flattypes.GeometryTypePolygon)
			xy, ends := polygonXYEnds(v)
			fg.SetXY(xy)
			fg.SetEnds(ends)
		case orb.MultiPolygon:
			fg.SetType(flattypes.GeometryTypeMultiPolygon)
			parts := make([]writer.Geometry, 0, len(v))
			for _, p := range v {
				pg := writer.NewGeometry(builder)
				pg.SetType(flattypes.GeometryTypePolygon)
				xy, ends := polygonXYEnds(p)
				pg.SetXY(xy)
				pg.SetEnds(ends)
				parts = append(parts, *pg)
			}
			fg.SetParts(parts)
		default:
			if gg.err == nil {
				gg.err = fmt.Errorf("landmask: cannot write %s geometry", g.GeoJSONType())
			}
			continue
		}
		f := writer.NewFeature(builder)
		f.SetGeometry(fg)
		return f
	}
	return nil
}

func polygonXYEnds(p orb.Polygon) ([]float64, []uint32) {
	var xy []float64
	ends := make([]uint32, 0, len(p))
	n := uint32(0)
	for _, ring := range p {
		for _, pt := range ring {
			xy = append(xy, pt[0], pt[1])
		}
		n += uint32(len(ring))
		ends = append(ends, n)
	}
	return xy, ends
}
