// Package mask derives the clip mask of a boundary and composites the
// "cut-out" and "cut-in" tile passes against its silhouette.
package mask

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-regions/internal/region"
)

// mercatorExtent is the half width of the EPSG:3857 world square.
const mercatorExtent = 20037508.342789244

// World is the full EPSG:3857 extent.
var World = orb.Bound{
	Min: orb.Point{-mercatorExtent, -mercatorExtent},
	Max: orb.Point{mercatorExtent, mercatorExtent},
}

// ClipMask is derived from the loaded boundary and never stored.
// Inside covers the boundary silhouette. Outside is its complement: the
// world with every outer ring cut out as a hole, followed by one polygon per
// inner ring of the boundary, since a hole in a region is outside it.
type ClipMask struct {
	Inside  orb.MultiPolygon
	Outside orb.MultiPolygon
}

// Empty reports whether there is no boundary to mask with.
func (m ClipMask) Empty() bool {
	return len(m.Inside) == 0
}

// Derive builds the mask from every polygonal region of c. Point features
// contribute nothing.
func Derive(c *region.Collection, world orb.Bound) ClipMask {
	var inside orb.MultiPolygon
	for _, r := range c.Regions() {
		switch g := r.Geometry.(type) {
		case orb.Polygon:
			if len(g) > 0 {
				inside = append(inside, g)
			}
		case orb.MultiPolygon:
			for _, p := range g {
				if len(p) > 0 {
					inside = append(inside, p)
				}
			}
		}
	}
	if len(inside) == 0 {
		return ClipMask{}
	}

	outer := world.ToRing()
	if outer.Orientation() != orb.CCW {
		outer.Reverse()
	}
	worldPoly := orb.Polygon{outer}
	var enclaves orb.MultiPolygon
	for _, p := range inside {
		worldPoly = append(worldPoly, wound(p[0], orb.CW))
		for _, ring := range p[1:] {
			enclaves = append(enclaves, orb.Polygon{wound(ring, orb.CCW)})
		}
	}
	return ClipMask{Inside: inside, Outside: append(orb.MultiPolygon{worldPoly}, enclaves...)}
}

func wound(r orb.Ring, o orb.Orientation) orb.Ring {
	r = r.Clone()
	if r.Orientation() != o {
		r.Reverse()
	}
	return r
}

// FeatureCollection renders the mask as two features tagged by role.
func (m ClipMask) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if m.Empty() {
		return fc
	}
	in := geojson.NewFeature(m.Inside)
	in.Properties["role"] = "inside"
	out := geojson.NewFeature(m.Outside)
	out.Properties["role"] = "outside"
	fc.Append(in)
	fc.Append(out)
	return fc
}
