package region

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

// ErrNoFeatures is returned when a feature collection carries nothing usable.
var ErrNoFeatures = errors.New("feature collection has no features")

// Collection is the feature set of one hierarchy level. It is built once
// when the level is loaded and replaced wholesale on level transitions.
type Collection struct {
	Level string

	regions  []*Region
	byCode   map[string]*Region
	tree     *rtreego.Rtree
	revision atomic.Uint64
}

// entry adapts a region to rtreego.Spatial and remembers its load order so
// overlapping hits resolve to the first loaded region.
type entry struct {
	pos    int
	region *Region
	rect   rtreego.Rect
}

func (e entry) Bounds() rtreego.Rect { return e.rect }

// minExtent pads degenerate bounds so rtreego accepts them.
const minExtent = 1e-9

func boundRect(b orb.Bound) rtreego.Rect {
	w := b.Max[0] - b.Min[0]
	h := b.Max[1] - b.Min[1]
	if w < minExtent {
		w = minExtent
	}
	if h < minExtent {
		h = minExtent
	}
	rect, _ := rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, []float64{w, h})
	return rect
}

// NewCollection indexes regions for hit testing and takes ownership of them.
func NewCollection(level string, regions []*Region) *Collection {
	c := &Collection{
		Level:   level,
		regions: regions,
		byCode:  make(map[string]*Region, len(regions)),
		// 2D, min=25 children, max=50 children
		tree: rtreego.NewTree(2, 25, 50),
	}
	for i, r := range regions {
		r.owner = c
		if r.Code != "" {
			if _, dup := c.byCode[r.Code]; !dup {
				c.byCode[r.Code] = r
			}
		}
		c.tree.Insert(entry{pos: i, region: r, rect: boundRect(r.Bound())})
	}
	return c
}

// DecodeOptions controls how GeoJSON features become regions.
type DecodeOptions struct {
	CodeProperty string // attribute holding the administrative code
	NameProperty string // attribute holding the display name
	// Project reprojects EPSG:4326 input to the EPSG:3857 display projection.
	Project bool
}

// FromFeatureCollection builds a collection from GeoJSON. Geometries are
// cloned before projection so shared inputs are never mutated. Features with
// a nil geometry are skipped.
func FromFeatureCollection(level string, fc *geojson.FeatureCollection, opts DecodeOptions) (*Collection, error) {
	if fc == nil {
		return nil, ErrNoFeatures
	}
	regions := make([]*Region, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		g := orb.Clone(f.Geometry)
		if opts.Project {
			g = project.Geometry(g, project.WGS84.ToMercator)
		}
		r := &Region{
			Name:       propString(f.Properties, opts.NameProperty),
			Code:       propString(f.Properties, opts.CodeProperty),
			Geometry:   g,
			Properties: f.Properties.Clone(),
		}
		switch {
		case r.Code != "":
			r.ID = r.Code
		case f.ID != nil:
			r.ID = fmt.Sprint(f.ID)
		default:
			r.ID = strconv.Itoa(i)
		}
		regions = append(regions, r)
	}
	if len(regions) == 0 && len(fc.Features) > 0 {
		return nil, fmt.Errorf("level %q: %w", level, ErrNoFeatures)
	}
	return NewCollection(level, regions), nil
}

func propString(props geojson.Properties, key string) string {
	if key == "" || props == nil {
		return ""
	}
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Len returns the number of regions. A nil collection is empty.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.regions)
}

// Regions returns the regions in load order.
func (c *Collection) Regions() []*Region {
	if c == nil {
		return nil
	}
	return c.regions
}

// Find returns the region with the given administrative code.
func (c *Collection) Find(code string) (*Region, bool) {
	if c == nil {
		return nil, false
	}
	r, ok := c.byCode[code]
	return r, ok
}

// Hit returns the first region (in load order) whose polygon contains p, or
// nil. Hitting an empty or nil collection is not an error.
func (c *Collection) Hit(p orb.Point) *Region {
	if c.Len() == 0 {
		return nil
	}
	found := c.tree.SearchIntersect(rtreego.Point{p[0], p[1]}.ToRect(minExtent))
	if len(found) == 0 {
		return nil
	}
	candidates := make([]entry, 0, len(found))
	for _, s := range found {
		candidates = append(candidates, s.(entry))
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].pos < candidates[j].pos })
	for _, e := range candidates {
		if e.region.Contains(p) {
			return e.region
		}
	}
	return nil
}

// Bound returns the union of all region bounds.
func (c *Collection) Bound() orb.Bound {
	if c.Len() == 0 {
		return orb.Bound{}
	}
	b := c.regions[0].Bound()
	for _, r := range c.regions[1:] {
		b = b.Union(r.Bound())
	}
	return b
}

// Changed marks the visual representation of the collection stale. It
// satisfies style.Invalidator.
func (c *Collection) Changed() {
	if c == nil {
		return
	}
	c.revision.Add(1)
}

// Revision counts how many times the collection was marked changed.
func (c *Collection) Revision() uint64 {
	if c == nil {
		return 0
	}
	return c.revision.Load()
}

// FeatureCollection renders the collection, active flags included.
func (c *Collection) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range c.Regions() {
		fc.Append(r.Feature())
	}
	return fc
}
