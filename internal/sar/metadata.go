package sar

import (
	"time"

	"github.com/paulmach/orb"
)

// Metadata is the normalized annotation of one channel.
type Metadata struct {
	Mission      string
	Mode         string
	ProductType  string
	Polarization string
	Swath        string

	Rows int
	Cols int

	// RowSpacing is the azimuth pixel spacing and ColSpacing the range pixel
	// spacing, both in metres.
	RowSpacing float64
	ColSpacing float64

	// AzimuthStart and AzimuthStop bound the first and last line times.
	AzimuthStart time.Time
	AzimuthStop  time.Time
	// AzimuthTimeInterval is the time between lines in seconds.
	AzimuthTimeInterval float64

	// RangeFirst and RangeLast are slant range times in seconds.
	RangeFirst float64
	RangeLast  float64

	CalibrationConstant float64

	// Corners are scene corners as lon/lat points in ring order.
	Corners []orb.Point
}

// PixelSpacing returns the range and azimuth spacing in metres.
func (m Metadata) PixelSpacing() (rng, azimuth float64) {
	return m.ColSpacing, m.RowSpacing
}

// AzimuthWindow returns the first and last line times.
func (m Metadata) AzimuthWindow() (time.Time, time.Time) {
	return m.AzimuthStart, m.AzimuthStop
}

// RangeWindow returns the first and last slant range times in seconds.
func (m Metadata) RangeWindow() (float64, float64) {
	return m.RangeFirst, m.RangeLast
}

// Footprint closes the scene corners into a polygon.
func (m Metadata) Footprint() orb.Polygon {
	if len(m.Corners) == 0 {
		return nil
	}
	ring := append(orb.Ring(nil), m.Corners...)
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// Bound returns the lon/lat bound of the scene corners.
func (m Metadata) Bound() orb.Bound {
	return orb.MultiPoint(m.Corners).Bound()
}
