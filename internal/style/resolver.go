package style

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/joeblew999/plat-regions/internal/region"
)

// Fill is a solid fill.
type Fill struct {
	Color string `json:"color"`
}

// Stroke is an outline.
type Stroke struct {
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

// Circle is a point symbol.
type Circle struct {
	Radius float64 `json:"radius"`
	Fill   *Fill   `json:"fill,omitempty"`
	Stroke *Stroke `json:"stroke,omitempty"`
}

// Visual is what the render engine receives for a feature.
type Visual struct {
	Fill   *Fill   `json:"fill,omitempty"`
	Stroke *Stroke `json:"stroke,omitempty"`
	Circle *Circle `json:"circle,omitempty"`
}

// Feature is anything with a geometry kind and an active flag.
type Feature interface {
	Kind() region.Kind
	Active() bool
}

// Builder turns parameters into a visual for one geometry kind.
type Builder func(p Parameters, active bool) Visual

// Builders returns the default builder per geometry kind.
func Builders() map[region.Kind]Builder {
	return map[region.Kind]Builder{
		region.KindPoint:        pointStyle,
		region.KindPolygon:      areaStyle,
		region.KindMultiPolygon: areaStyle,
	}
}

func areaStyle(p Parameters, active bool) Visual {
	width := p.StrokeWidth
	if active {
		width = p.StrokeWidthActive
	}
	return Visual{
		Stroke: &Stroke{Color: RGBA(p.StrokeColor, p.StrokeOpacity), Width: width},
		Fill:   &Fill{Color: RGBA(p.FillColor, p.FillOpacity)},
	}
}

func pointStyle(p Parameters, active bool) Visual {
	width := p.PointStrokeWidth
	if active {
		width += p.StrokeWidthActive
	}
	return Visual{Circle: &Circle{
		Radius: p.PointRadius,
		Stroke: &Stroke{Color: p.PointColor, Width: width},
	}}
}

type cacheKey struct {
	kind   region.Kind
	active bool
}

// Resolver evaluates styles. Results are cached per (kind, active) and the
// cache is dropped whenever the store revision moves.
type Resolver struct {
	store    *Store
	builders map[region.Kind]Builder

	mu       sync.Mutex
	revision uint64
	cache    map[cacheKey]Visual
}

// NewResolver uses the default builders.
func NewResolver(store *Store) *Resolver {
	return &Resolver{
		store:    store,
		builders: Builders(),
		cache:    make(map[cacheKey]Visual),
	}
}

// Resolve returns the style for f. The boolean is false for geometry kinds
// outside the closed set.
func (r *Resolver) Resolve(f Feature) (Visual, bool) {
	kind := f.Kind()
	build, ok := r.builders[kind]
	if !ok {
		return Visual{}, false
	}
	key := cacheKey{kind: kind, active: f.Active()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rev := r.store.Revision(); rev != r.revision {
		r.revision = rev
		clear(r.cache)
	}
	if v, ok := r.cache[key]; ok {
		return v, true
	}
	v := build(r.store.Get(), key.active)
	r.cache[key] = v
	return v, true
}

// RGBA converts a #rgb or #rrggbb color plus opacity into a CSS rgba()
// string. Anything else is returned unchanged.
func RGBA(color string, opacity float64) string {
	hex := strings.TrimPrefix(color, "#")
	if hex == color {
		return color
	}
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color
	}
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", v>>16&0xff, v>>8&0xff, v&0xff,
		strconv.FormatFloat(opacity, 'f', -1, 64))
}
