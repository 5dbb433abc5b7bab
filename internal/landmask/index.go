// Package landmask decides whether geographic points lie over land, using a
// set of coastline polygons, and drops detections near land.
package landmask

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Mask reports whether a lon/lat point is over land.
type Mask interface {
	IsLand(p orb.Point) bool
}

// Index is an immutable set of land polygons with their bounds.
type Index struct {
	polygons []orb.Polygon
	bounds   []orb.Bound
	bound    orb.Bound
}

var (
	_ Mask = (*Index)(nil)
	_ Mask = (*Subset)(nil)
)

// NewIndex flattens polygons and multipolygons into an index. Other geometry
// types are ignored.
func NewIndex(geoms ...orb.Geometry) *Index {
	idx := &Index{}
	for _, g := range geoms {
		switch v := g.(type) {
		case orb.Polygon:
			idx.add(v)
		case orb.MultiPolygon:
			for _, p := range v {
				idx.add(p)
			}
		case orb.Ring:
			idx.add(orb.Polygon{v})
		}
	}
	return idx
}

func (idx *Index) add(p orb.Polygon) {
	if len(p) == 0 || len(p[0]) < 3 {
		return
	}
	b := p.Bound()
	if len(idx.polygons) == 0 {
		idx.bound = b
	} else {
		idx.bound = idx.bound.Union(b)
	}
	idx.polygons = append(idx.polygons, p)
	idx.bounds = append(idx.bounds, b)
}

// Len returns the number of polygons.
func (idx *Index) Len() int { return len(idx.polygons) }

// Bound returns the bound of every polygon.
func (idx *Index) Bound() orb.Bound { return idx.bound }

// Polygons returns the indexed polygons. Callers must not modify them.
func (idx *Index) Polygons() []orb.Polygon { return idx.polygons }

// IsLand tests p against every polygon.
func (idx *Index) IsLand(p orb.Point) bool {
	return contains(idx.polygons, idx.bounds, p)
}

// Narrow returns the polygons whose bounds intersect b. A subset answers
// IsLand exactly like the full index for points inside b.
func (idx *Index) Narrow(b orb.Bound) *Subset {
	s := &Subset{parent: idx, bound: b}
	for i, pb := range idx.bounds {
		if pb.Intersects(b) {
			s.polygons = append(s.polygons, idx.polygons[i])
			s.bounds = append(s.bounds, pb)
		}
	}
	return s
}

// Subset is the part of an Index relevant to one region.
type Subset struct {
	parent   *Index
	bound    orb.Bound
	polygons []orb.Polygon
	bounds   []orb.Bound
}

// Len returns the number of polygons kept.
func (s *Subset) Len() int { return len(s.polygons) }

// Bound returns the region the subset was narrowed to.
func (s *Subset) Bound() orb.Bound { return s.bound }

// IsLand tests p against the kept polygons when p lies inside the subset
// region and against the full index otherwise.
func (s *Subset) IsLand(p orb.Point) bool {
	if !s.bound.Contains(p) {
		return s.parent.IsLand(p)
	}
	return contains(s.polygons, s.bounds, p)
}

func contains(polygons []orb.Polygon, bounds []orb.Bound, p orb.Point) bool {
	for i, poly := range polygons {
		if !bounds[i].Contains(p) {
			continue
		}
		if planar.PolygonContains(poly, p) {
			return true
		}
	}
	return false
}
