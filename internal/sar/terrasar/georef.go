package terrasar

import (
	"encoding/xml"
	"fmt"
	"os"
	"time"

	"github.com/rkm/sarwatch/internal/geogrid"
	"github.com/rkm/sarwatch/internal/sar"
)

type georefXML struct {
	XMLName xml.Name `xml:"georeference"`
	Grid    struct {
		Count struct {
			Azimuth string `xml:"azimuth"`
			Range   string `xml:"range"`
			Total   string `xml:"total"`
		} `xml:"numberOfGridPoints"`
		Spacing struct {
			Azimuth string `xml:"azimuth"`
			Range   string `xml:"range"`
		} `xml:"spacingOfGridPoints"`
		TReference   string `xml:"gridReferenceTime>tReferenceTimeUTC"`
		TauReference string `xml:"gridReferenceTime>tauReferenceTime"`
		Points       []struct {
			Iaz    string `xml:"iaz,attr"`
			Irg    string `xml:"irg,attr"`
			T      string `xml:"t"`
			Tau    string `xml:"tau"`
			Lat    string `xml:"lat"`
			Lon    string `xml:"lon"`
			Inc    string `xml:"inc"`
			Elev   string `xml:"elev"`
			Height string `xml:"height"`
		} `xml:"gridPoint"`
	} `xml:"geolocationGrid"`
}

// GeoRef is the parsed geolocation grid annotation.
type GeoRef struct {
	AzimuthPoints int
	RangePoints   int
	// AzimuthSpacing and RangeSpacing are the grid spacings in seconds.
	AzimuthSpacing float64
	RangeSpacing   float64
	TReference     time.Time
	TauReference   float64
	// Points is row-major, azimuth by range.
	Points []geogrid.Point
}

// ParseGeoRef reads ANNOTATION/GEOREF.xml.
func ParseGeoRef(p string) (*GeoRef, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, sar.IOError(p, err)
	}
	return parseGeoRef(p, data)
}

func parseGeoRef(p string, data []byte) (*GeoRef, error) {
	var doc georefXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, sar.NewFormatError(p, "georeference", err)
	}
	f := &sar.Fields{Path: p}
	g := doc.Grid
	ref := &GeoRef{
		AzimuthPoints:  f.Positive("numberOfGridPoints/azimuth", g.Count.Azimuth),
		RangePoints:    f.Positive("numberOfGridPoints/range", g.Count.Range),
		AzimuthSpacing: f.Float("spacingOfGridPoints/azimuth", g.Spacing.Azimuth),
		RangeSpacing:   f.Float("spacingOfGridPoints/range", g.Spacing.Range),
		TReference:     f.Time("gridReferenceTime/tReferenceTimeUTC", g.TReference),
		TauReference:   f.Float("gridReferenceTime/tauReferenceTime", g.TauReference),
	}
	if err := f.Err(); err != nil {
		return nil, err
	}
	f.Check("gridPoint", len(g.Points) == ref.AzimuthPoints*ref.RangePoints,
		"%d grid points for a %dx%d grid", len(g.Points), ref.AzimuthPoints, ref.RangePoints)

	ref.Points = make([]geogrid.Point, ref.AzimuthPoints*ref.RangePoints)
	seen := make([]bool, len(ref.Points))
	for i, gp := range g.Points {
		field := fmt.Sprintf("gridPoint[%d]", i)
		iaz := f.Int(field+"/@iaz", gp.Iaz)
		irg := f.Int(field+"/@irg", gp.Irg)
		pt := geogrid.Point{
			Lat: f.Float(field+"/lat", gp.Lat),
			Lon: f.Float(field+"/lon", gp.Lon),
			Inc: f.Float(field+"/inc", gp.Inc),
		}
		if f.Err() != nil {
			break
		}
		// indices are 1-based
		if iaz < 1 || iaz > ref.AzimuthPoints || irg < 1 || irg > ref.RangePoints {
			f.Check(field, false, "index (%d, %d) outside %dx%d grid", iaz, irg, ref.AzimuthPoints, ref.RangePoints)
			break
		}
		k := (iaz-1)*ref.RangePoints + irg - 1
		if seen[k] {
			f.Check(field, false, "duplicate index (%d, %d)", iaz, irg)
			break
		}
		seen[k] = true
		ref.Points[k] = pt
	}
	if err := f.Err(); err != nil {
		return nil, err
	}
	return ref, nil
}

// Grid builds the geolocation grid for a product. Ticks are grid offsets in
// seconds; a line advances azimuth time by the scene duration over the row
// count and a column advances range time by the range window over the column
// count.
func (r *GeoRef) Grid(p string, pr *Product) (*geogrid.Grid, error) {
	az := geogrid.Axis{Ticks: make([]float64, r.AzimuthPoints), Scale: pr.AzimuthTimeInterval()}
	for i := range az.Ticks {
		az.Ticks[i] = float64(i) * r.AzimuthSpacing
	}
	rng := geogrid.Axis{Ticks: make([]float64, r.RangePoints), Scale: pr.RangeTimeInterval()}
	for j := range rng.Ticks {
		rng.Ticks[j] = float64(j) * r.RangeSpacing
	}
	grid, err := geogrid.New(az, rng, r.Points)
	if err != nil {
		return nil, sar.NewFormatError(p, "geolocationGrid", err)
	}
	return grid, nil
}
