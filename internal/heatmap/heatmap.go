// Package heatmap turns weighted point sets into continuous field layer
// descriptors. Interpolation itself is left to the render engine.
package heatmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
	"gonum.org/v1/gonum/floats"
)

// ErrNoPoints is returned when a source yields nothing to build a field from.
var ErrNoPoints = errors.New("no weighted points")

// Point is a weighted sample.
type Point struct {
	Coord  orb.Point `json:"coord" doc:"Position (display projection once built)"`
	Weight float64   `json:"weight" doc:"Sample weight"`
}

// Source yields weighted points in EPSG:4326.
type Source interface {
	Points(ctx context.Context) ([]Point, error)
}

// Kind names the field layer type.
type Kind string

const (
	KindHeatmap Kind = "heatmap"
	KindIDW     Kind = "idw"
)

// Scaling says how raw weights are mapped into [0, 1].
type Scaling string

const (
	// ScaleClamp keeps absolute weights and clips them to [0, 1]. It is the
	// zero value's behavior.
	ScaleClamp Scaling = "clamp"
	// ScaleRange stretches the dataset's own min..max over [0, 1].
	ScaleRange Scaling = "range"
)

func (s Scaling) apply(pts []Point) {
	if s == ScaleRange {
		Normalize(pts)
		return
	}
	Clamp(pts)
}

// FieldLayer is the renderable descriptor handed to the render engine.
type FieldLayer struct {
	Kind     Kind      `json:"kind" enum:"heatmap,idw"`
	Blur     int       `json:"blur,omitempty"`
	Radius   int       `json:"radius,omitempty"`
	Gradient []string  `json:"gradient,omitempty"`
	Power    float64   `json:"power,omitempty" doc:"IDW distance exponent"`
	Bound    orb.Bound `json:"bound" doc:"Extent of the points"`
	Points   []Point   `json:"points"`
}

// FeatureCollection renders the layer points with a weight property.
func (l FieldLayer) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range l.Points {
		f := geojson.NewFeature(p.Coord)
		f.Properties["weight"] = p.Weight
		fc.Append(f)
	}
	return fc
}

// HeatmapBuilder configures heatmap layers.
type HeatmapBuilder struct {
	Blur     int
	Radius   int
	Gradient []string
	Scaling  Scaling
}

// DefaultHeatmap matches the blurred earthquake layer of the demo.
func DefaultHeatmap() HeatmapBuilder {
	return HeatmapBuilder{
		Blur:     100,
		Radius:   200,
		Gradient: []string{"#ffffff", "#00ff00", "#0000ff"},
		Scaling:  ScaleClamp,
	}
}

// Build pulls points from src, projects them and scales their weights.
// Sources are read on every call, so synthetic sources produce a fresh field
// each time.
func (b HeatmapBuilder) Build(ctx context.Context, src Source) (FieldLayer, error) {
	pts, err := load(ctx, src, b.Scaling)
	if err != nil {
		return FieldLayer{}, err
	}
	return FieldLayer{
		Kind:     KindHeatmap,
		Blur:     b.Blur,
		Radius:   b.Radius,
		Gradient: b.Gradient,
		Bound:    bound(pts),
		Points:   pts,
	}, nil
}

// IDWBuilder configures inverse-distance-weighting layers.
type IDWBuilder struct {
	Power    float64
	Gradient []string
	Scaling  Scaling
}

// DefaultIDW uses the customary squared distance.
func DefaultIDW() IDWBuilder {
	return IDWBuilder{
		Power:    2,
		Gradient: []string{"#2c7bb6", "#abd9e9", "#ffffbf", "#fdae61", "#d7191c"},
		Scaling:  ScaleClamp,
	}
}

// Build works like HeatmapBuilder.Build.
func (b IDWBuilder) Build(ctx context.Context, src Source) (FieldLayer, error) {
	pts, err := load(ctx, src, b.Scaling)
	if err != nil {
		return FieldLayer{}, err
	}
	return FieldLayer{
		Kind:     KindIDW,
		Power:    b.Power,
		Gradient: b.Gradient,
		Bound:    bound(pts),
		Points:   pts,
	}, nil
}

func load(ctx context.Context, src Source, scaling Scaling) ([]Point, error) {
	raw, err := src.Points(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading points: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoPoints
	}
	pts := make([]Point, len(raw))
	for i, p := range raw {
		pts[i] = Point{Coord: project.WGS84.ToMercator(p.Coord), Weight: p.Weight}
	}
	scaling.apply(pts)
	return pts, nil
}

// Clamp clips weights into [0, 1], leaving in-range weights unchanged.
func Clamp(pts []Point) {
	for i := range pts {
		pts[i].Weight = min(max(pts[i].Weight, 0), 1)
	}
}

// Normalize rescales weights into [0, 1]. Equal weights all become 1.
func Normalize(pts []Point) {
	if len(pts) == 0 {
		return
	}
	ws := make([]float64, len(pts))
	for i, p := range pts {
		ws[i] = p.Weight
	}
	lo, hi := floats.Min(ws), floats.Max(ws)
	span := hi - lo
	for i := range pts {
		if span == 0 {
			pts[i].Weight = 1
			continue
		}
		pts[i].Weight = (ws[i] - lo) / span
	}
}

func bound(pts []Point) orb.Bound {
	mp := make(orb.MultiPoint, len(pts))
	for i, p := range pts {
		mp[i] = p.Coord
	}
	return mp.Bound()
}
