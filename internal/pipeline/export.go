package pipeline

import (
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/rkm/sarwatch/internal/landmask"
)

// FeatureCollection renders the detections as GeoJSON points. Run-level
// fields go on every feature so features stay meaningful on their own.
func (r *Result) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, d := range r.Detections {
		f := geojson.NewFeature(orb.Point{d.Lon, d.Lat})
		f.ID = d.ID
		f.Properties["run_id"] = r.RunID
		f.Properties["sensor"] = r.Sensor
		f.Properties["channel"] = r.Channel
		f.Properties["x"] = d.Pixel.X
		f.Properties["y"] = d.Pixel.Y
		f.Properties["incidence"] = d.Incidence
		f.Properties["intensity"] = d.Intensity
		fc.Append(f)
	}
	fc.ExtraMembers = geojson.Properties{
		"frame":         r.Frame,
		"raw":           r.Raw,
		"land_filtered": r.Land,
	}
	return fc
}

// Points returns the detection locations as lon/lat points.
func (r *Result) Points() []orb.Geometry {
	out := make([]orb.Geometry, 0, len(r.Detections))
	for _, d := range r.Detections {
		out = append(out, orb.Point{d.Lon, d.Lat})
	}
	return out
}

// WriteFlatGeobuf writes the detection points as an indexed FlatGeobuf layer
// named after the channel.
func (r *Result) WriteFlatGeobuf(w io.Writer) error {
	return landmask.WriteFlatGeobuf(w, r.Channel, r.Points())
}
