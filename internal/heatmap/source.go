package heatmap

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// WeightFunc draws a weight for a synthetic point.
type WeightFunc func(rng *rand.Rand) float64

// UniformWeight draws weights uniformly from [0, 1).
func UniformWeight(rng *rand.Rand) float64 { return rng.Float64() }

// Synthetic scatters Count points uniformly within Bound (EPSG:4326).
// Nothing is cached: every Points call draws a new set.
type Synthetic struct {
	Bound  orb.Bound
	Count  int
	Rand   *rand.Rand
	Weight WeightFunc
}

// Points implements Source.
func (s Synthetic) Points(ctx context.Context) ([]Point, error) {
	if s.Count <= 0 {
		return nil, ErrNoPoints
	}
	rng := s.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	weight := s.Weight
	if weight == nil {
		weight = UniformWeight
	}
	pts := make([]Point, s.Count)
	for i := range pts {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		pts[i] = Point{Coord: Scatter(rng, s.Bound), Weight: weight(rng)}
	}
	return pts, nil
}

// Scatter returns a point drawn uniformly from b.
func Scatter(rng *rand.Rand, b orb.Bound) orb.Point {
	return orb.Point{
		b.Min[0] + rng.Float64()*(b.Max[0]-b.Min[0]),
		b.Min[1] + rng.Float64()*(b.Max[1]-b.Min[1]),
	}
}

// MagnitudeFromName reads an earthquake magnitude from a placemark name
// such as "M 5.9 - Tonga" and shifts it so magnitude 5 weighs zero.
func MagnitudeFromName(name string) (float64, bool) {
	if len(name) < 3 {
		return 0, false
	}
	field := strings.Fields(name[2:])
	if len(field) == 0 {
		return 0, false
	}
	m, err := strconv.ParseFloat(field[0], 64)
	if err != nil {
		return 0, false
	}
	return m - 5, true
}

type placemark struct {
	Name  string `xml:"name"`
	Point struct {
		Coordinates string `xml:"coordinates"`
	} `xml:"Point"`
}

// ReadKML collects point placemarks from r. weight derives the sample
// weight from the placemark name; placemarks it rejects are skipped.
func ReadKML(r io.Reader, weight func(name string) (float64, bool)) ([]Point, error) {
	if weight == nil {
		weight = MagnitudeFromName
	}
	dec := xml.NewDecoder(r)
	var pts []Point
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading kml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Placemark" {
			continue
		}
		var pm placemark
		if err := dec.DecodeElement(&pm, &se); err != nil {
			return nil, fmt.Errorf("decoding placemark: %w", err)
		}
		coord, ok := parseCoordinates(pm.Point.Coordinates)
		if !ok {
			continue
		}
		w, ok := weight(pm.Name)
		if !ok {
			continue
		}
		pts = append(pts, Point{Coord: coord, Weight: w})
	}
	return pts, nil
}

func parseCoordinates(s string) (orb.Point, bool) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) < 2 {
		return orb.Point{}, false
	}
	lon, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lat, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return orb.Point{}, false
	}
	return orb.Point{lon, lat}, true
}

// KMLFile reads placemarks from a file on every call.
type KMLFile struct {
	Path   string
	Weight func(name string) (float64, bool)
}

// Points implements Source.
func (k KMLFile) Points(ctx context.Context) ([]Point, error) {
	f, err := os.Open(k.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadKML(f, k.Weight)
}

// GeoJSONPoints reads point features carrying a numeric weight property.
type GeoJSONPoints struct {
	Features       *geojson.FeatureCollection
	WeightProperty string
}

// Points implements Source. Non-point features and features without a
// numeric weight are skipped.
func (g GeoJSONPoints) Points(ctx context.Context) ([]Point, error) {
	if g.Features == nil {
		return nil, ErrNoPoints
	}
	var pts []Point
	for _, f := range g.Features.Features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		w, ok := f.Properties[g.WeightProperty].(float64)
		if !ok {
			continue
		}
		pts = append(pts, Point{Coord: p, Weight: w})
	}
	return pts, nil
}
