// Package region holds the boundary data model: regions, the collections a
// hierarchy level loads, and point hit testing over them.
package region

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Kind is the closed set of geometry kinds the viewer knows how to style.
type Kind int

const (
	KindUnknown Kind = iota
	KindPoint
	KindPolygon
	KindMultiPolygon
)

// KindOf classifies a geometry.
func KindOf(g orb.Geometry) Kind {
	switch g.(type) {
	case orb.Point:
		return KindPoint
	case orb.Polygon:
		return KindPolygon
	case orb.MultiPolygon:
		return KindMultiPolygon
	default:
		return KindUnknown
	}
}

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "Point"
	case KindPolygon:
		return "Polygon"
	case KindMultiPolygon:
		return "MultiPolygon"
	default:
		return "Unknown"
	}
}

// Region is one feature of a level: a boundary polygon, or a point for
// detail features.
type Region struct {
	ID         string
	Name       string
	Code       string
	Geometry   orb.Geometry
	Properties geojson.Properties

	active bool
	owner  *Collection
}

// Kind returns the geometry kind of the region.
func (r *Region) Kind() Kind {
	return KindOf(r.Geometry)
}

// Active reports whether the region is highlighted.
func (r *Region) Active() bool {
	return r.active
}

// SetActive toggles the highlight flag and marks the owning collection as
// changed so dependent styles are recomputed.
func (r *Region) SetActive(active bool) {
	if r.active == active {
		return
	}
	r.active = active
	if r.owner != nil {
		r.owner.Changed()
	}
}

// Bound returns the bounding box of the region geometry.
func (r *Region) Bound() orb.Bound {
	if r.Geometry == nil {
		return orb.Bound{}
	}
	return r.Geometry.Bound()
}

// Centroid returns the center of the bounding box, which is where badges are
// anchored.
func (r *Region) Centroid() orb.Point {
	return r.Bound().Center()
}

// Contains reports whether p lies inside the region polygon. Points and other
// geometry kinds are never hit.
func (r *Region) Contains(p orb.Point) bool {
	switch g := r.Geometry.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	default:
		return false
	}
}

// Feature converts the region back to GeoJSON with its current state.
func (r *Region) Feature() *geojson.Feature {
	f := geojson.NewFeature(r.Geometry)
	f.ID = r.ID
	for k, v := range r.Properties {
		f.Properties[k] = v
	}
	f.Properties["code"] = r.Code
	f.Properties["name"] = r.Name
	f.Properties["isActive"] = r.active
	return f
}

func (r *Region) String() string {
	return fmt.Sprintf("%s(%s)", r.Name, r.Code)
}
