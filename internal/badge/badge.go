// Package badge renders the circular marker icons anchored at region
// centroids: colored ring segments, a solid core and a numeric label.
package badge

import (
	"bytes"
	"encoding/base64"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"text/template"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-regions/internal/region"
)

// Ring geometry of the icon, in viewBox units.
const (
	ringRadius    = 5.0
	circumference = 2 * math.Pi * ringRadius

	// DefaultLabelMax bounds random labels to [0, DefaultLabelMax).
	DefaultLabelMax = 1000
	// DefaultScale is the icon scale handed to the render engine.
	DefaultScale = 0.3
)

// SentinelValue and SentinelText replace labels that fail to parse.
const (
	SentinelValue = -1
	SentinelText  = "?"
)

// DefaultPalette holds the ring segment colors.
var DefaultPalette = []string{"tomato", "dodgerblue", "gold", "yellowgreen"}

// Segment is one colored arc of the ring.
type Segment struct {
	Color  string  `json:"color"`
	Length float64 `json:"length" doc:"Dash length along the ring"`
	Offset float64 `json:"offset" doc:"Dash offset along the ring"`
}

// Label is the number printed in the badge core.
type Label struct {
	Value int    `json:"value"`
	Text  string `json:"text"`
}

// Sentinel is the label used when the upstream value cannot be parsed.
func Sentinel() Label {
	return Label{Value: SentinelValue, Text: SentinelText}
}

// NewLabel formats n as a label.
func NewLabel(n int) Label {
	return Label{Value: n, Text: strconv.Itoa(n)}
}

// IconDescriptor is a point anchored vector image.
type IconDescriptor struct {
	Anchor   orb.Point `json:"anchor" doc:"Anchor point in display projection"`
	Label    Label     `json:"label"`
	Segments []Segment `json:"segments"`
	Scale    float64   `json:"scale"`
	SVG      string    `json:"svg"`
	Src      string    `json:"src" doc:"data: URI of the SVG"`
}

// Marker is a badge bound to the region it decorates.
type Marker struct {
	ID     string         `json:"id"`
	Region string         `json:"region"`
	Icon   IconDescriptor `json:"icon"`
}

// Factory generates badges. The zero value is not usable; call NewFactory.
type Factory struct {
	Palette  []string
	LabelMax int
	Scale    float64
}

// NewFactory returns a factory with the default palette.
func NewFactory() *Factory {
	return &Factory{
		Palette:  DefaultPalette,
		LabelMax: DefaultLabelMax,
		Scale:    DefaultScale,
	}
}

var iconTmpl = template.Must(template.New("badge").Funcs(template.FuncMap{"num": num}).Parse(
	`<svg version="1.1" xmlns="http://www.w3.org/2000/svg" height="150" width="150" viewBox="0 0 20 20">
<circle r="5" cx="10" cy="10" fill="bisque" />
{{- range .Segments}}
<circle r="5" cx="10" cy="10" fill="none" stroke="{{.Color}}" stroke-width="10" stroke-dasharray="{{num .Length}} {{num $.Circumference}}" stroke-dashoffset="{{num .Offset}}" />
{{- end}}
<circle r="8" cx="10" cy="10" />
<text x="50%" y="50%" dominant-baseline="middle" text-anchor="middle" font-size="5px" fill="white">{{.Label}}</text>
</svg>`))

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// Generate builds one icon. Segment lengths and the starting offset are
// drawn from rng, so two calls rarely produce the same picture.
func (f *Factory) Generate(centroid orb.Point, label Label, rng *rand.Rand) IconDescriptor {
	segments := f.segments(rng)

	var buf bytes.Buffer
	// Rendering a fixed template with numeric input cannot fail.
	_ = iconTmpl.Execute(&buf, struct {
		Segments      []Segment
		Circumference float64
		Label         string
	}{segments, circumference, label.Text})
	svg := buf.String()

	return IconDescriptor{
		Anchor:   centroid,
		Label:    label,
		Segments: segments,
		Scale:    f.Scale,
		SVG:      svg,
		Src:      "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg)),
	}
}

func (f *Factory) segments(rng *rand.Rand) []Segment {
	weights := make([]float64, len(f.Palette))
	total := 0.0
	for i := range weights {
		weights[i] = 0.5 + rng.Float64()
		total += weights[i]
	}
	start := rng.Float64() * circumference
	segments := make([]Segment, len(f.Palette))
	acc := 0.0
	for i, color := range f.Palette {
		length := weights[i] / total * circumference
		segments[i] = Segment{Color: color, Length: length, Offset: -(start + acc)}
		acc += length
	}
	return segments
}

// LabelFor derives the label from a feature attribute. An empty key means a
// random label; a value that does not parse as a number yields the sentinel.
func (f *Factory) LabelFor(r *region.Region, key string, rng *rand.Rand) Label {
	if key == "" {
		return NewLabel(rng.IntN(f.LabelMax))
	}
	v, ok := r.Properties[key]
	if !ok || v == nil {
		return Sentinel()
	}
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Sentinel()
		}
		return NewLabel(int(math.Round(n)))
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return Sentinel()
		}
		return NewLabel(int(math.Round(parsed)))
	default:
		return Sentinel()
	}
}

// ForRegions builds one badge per region, anchored at its bounding box
// centroid.
func (f *Factory) ForRegions(regions []*region.Region, labelKey string, rng *rand.Rand) []Marker {
	markers := make([]Marker, 0, len(regions))
	for _, r := range regions {
		markers = append(markers, Marker{
			ID:     "badge-" + r.ID,
			Region: r.Code,
			Icon:   f.Generate(r.Centroid(), f.LabelFor(r, labelKey, rng), rng),
		})
	}
	return markers
}
