// Package geogrid maps image pixels to geodetic coordinates through a sparse
// grid of tie points, and back again.
//
// A grid has one row per azimuth tie line and one column per range tie
// column. Each axis carries the tick values of its tie points together with a
// linear pixel-to-tick mapping, so platforms whose grids are timed (azimuth
// seconds) and platforms whose grids are indexed (range pixels) share the same
// interpolation.
package geogrid

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Point is one geodetic sample of the grid.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Inc float64 `json:"inc"`
}

// Axis maps a pixel coordinate onto the tick scale of one grid axis.
type Axis struct {
	// Ticks holds the tie point positions, strictly increasing.
	Ticks []float64
	// Origin and Scale convert a pixel into tick units: Origin + pixel*Scale.
	Origin float64
	Scale  float64
}

// Coord converts a pixel coordinate to the axis tick scale.
func (a Axis) Coord(pixel float64) float64 {
	return a.Origin + pixel*a.Scale
}

// cell returns the index of the tie interval holding c, clamped to
// [0, len(Ticks)-2], and the fractional offset of c inside it. The offset is
// not clamped so coordinates past the outer ticks extrapolate linearly.
func (a Axis) cell(c float64) (int, float64) {
	i := sort.SearchFloat64s(a.Ticks, c) - 1
	if i < 0 {
		i = 0
	}
	if last := len(a.Ticks) - 2; i > last {
		i = last
	}
	t0, t1 := a.Ticks[i], a.Ticks[i+1]
	return i, (c - t0) / (t1 - t0)
}

func (a Axis) validate(name string) error {
	if len(a.Ticks) < 2 {
		return fmt.Errorf("%w: %s axis needs at least 2 ticks, got %d", ErrInvalidGrid, name, len(a.Ticks))
	}
	for i := 1; i < len(a.Ticks); i++ {
		if !(a.Ticks[i] > a.Ticks[i-1]) {
			return fmt.Errorf("%w: %s ticks not strictly increasing at %d", ErrInvalidGrid, name, i)
		}
	}
	if a.Scale == 0 || math.IsNaN(a.Scale) || math.IsInf(a.Scale, 0) {
		return fmt.Errorf("%w: %s axis scale %v", ErrInvalidGrid, name, a.Scale)
	}
	return nil
}

// Grid is an immutable rectangular tie point grid.
type Grid struct {
	azimuth Axis
	rng     Axis
	points  []Point
}

// New builds a grid from its axes and row-major points (azimuth rows by range
// columns).
func New(azimuth, rng Axis, points []Point) (*Grid, error) {
	if err := azimuth.validate("azimuth"); err != nil {
		return nil, err
	}
	if err := rng.validate("range"); err != nil {
		return nil, err
	}
	want := len(azimuth.Ticks) * len(rng.Ticks)
	if len(points) != want {
		return nil, fmt.Errorf("%w: %d points for a %dx%d grid", ErrInvalidGrid, len(points), len(azimuth.Ticks), len(rng.Ticks))
	}
	return &Grid{
		azimuth: azimuth,
		rng:     rng,
		points:  append([]Point(nil), points...),
	}, nil
}

// Rows returns the number of azimuth tie lines.
func (g *Grid) Rows() int { return len(g.azimuth.Ticks) }

// Cols returns the number of range tie columns.
func (g *Grid) Cols() int { return len(g.rng.Ticks) }

// At returns the tie point at azimuth row i and range column j.
func (g *Grid) At(i, j int) Point {
	return g.points[i*len(g.rng.Ticks)+j]
}

// Forward geolocates the pixel (x, y), where x is the range column and y the
// azimuth row. Coordinates outside the grid reuse the nearest edge cell.
func (g *Grid) Forward(x, y float64) Point {
	ia, fy := g.azimuth.cell(g.azimuth.Coord(y))
	ir, fx := g.rng.cell(g.rng.Coord(x))

	p0 := g.At(ia, ir)
	p1 := g.At(ia, ir+1)
	p2 := g.At(ia+1, ir+1)
	p3 := g.At(ia+1, ir)

	return Point{
		Lat: Bilinear(fx, fy, [4]float64{p0.Lat, p1.Lat, p2.Lat, p3.Lat}),
		Lon: Bilinear(fx, fy, [4]float64{p0.Lon, p1.Lon, p2.Lon, p3.Lon}),
		Inc: Bilinear(fx, fy, [4]float64{p0.Inc, p1.Inc, p2.Inc, p3.Inc}),
	}
}

// Bilinear interpolates corner values ordered (x0y0, x1y0, x1y1, x0y1).
func Bilinear(x, y float64, f [4]float64) float64 {
	r1 := (1-x)*f[0] + x*f[1]
	r2 := (1-x)*f[3] + x*f[2]
	return (1-y)*r1 + y*r2
}

// Footprint returns the ring through the four grid corners in lon/lat order.
func (g *Grid) Footprint() orb.Polygon {
	last := g.Rows() - 1
	lastCol := g.Cols() - 1
	corners := []Point{g.At(0, 0), g.At(0, lastCol), g.At(last, lastCol), g.At(last, 0)}
	ring := make(orb.Ring, 0, len(corners)+1)
	for _, c := range corners {
		ring = append(ring, orb.Point{c.Lon, c.Lat})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

// Bound returns the lon/lat bound of every tie point.
func (g *Grid) Bound() orb.Bound {
	b := orb.Bound{Min: orb.Point{g.points[0].Lon, g.points[0].Lat}, Max: orb.Point{g.points[0].Lon, g.points[0].Lat}}
	for _, p := range g.points[1:] {
		b = b.Extend(orb.Point{p.Lon, p.Lat})
	}
	return b
}
