package drilldown

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-regions/internal/region"
)

// MarkerPolicy says whether a level decorates its regions with badges.
type MarkerPolicy string

const (
	MarkersBadges MarkerPolicy = "badges"
	MarkersNone   MarkerPolicy = "none"
)

// Source coordinate systems a level may be stored in.
const (
	EPSG4326 = "EPSG:4326"
	EPSG3857 = "EPSG:3857"
)

// Level is one stage of the hierarchy.
type Level struct {
	Name string `yaml:"name" json:"name"`
	// Source is the fetch key. "{code}" is replaced by the selected
	// region's administrative code.
	Source        string       `yaml:"source" json:"source"`
	Markers       MarkerPolicy `yaml:"markers" json:"markers"`
	CodeProperty  string       `yaml:"codeProperty" json:"codeProperty"`
	NameProperty  string       `yaml:"nameProperty" json:"nameProperty"`
	LabelProperty string       `yaml:"labelProperty,omitempty" json:"labelProperty,omitempty"`
	Projection    string       `yaml:"projection" json:"projection"`
}

// Key returns the fetch key for a parent code.
func (l Level) Key(code string) string {
	return strings.ReplaceAll(l.Source, "{code}", code)
}

func (l Level) decodeOptions() region.DecodeOptions {
	return region.DecodeOptions{
		CodeProperty: l.CodeProperty,
		NameProperty: l.NameProperty,
		Project:      l.Projection != EPSG3857,
	}
}

// DetailRange bounds the number of synthetic detail points.
type DetailRange struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// View is the default camera, center given as lon/lat.
type View struct {
	Center  [2]float64 `yaml:"center" json:"center"`
	Zoom    float64    `yaml:"zoom" json:"zoom"`
	MinZoom float64    `yaml:"minZoom" json:"minZoom"`
}

// CenterMercator returns the center in display projection.
func (v View) CenterMercator() orb.Point {
	return project.Point(orb.Point{v.Center[0], v.Center[1]}, project.WGS84.ToMercator)
}

// Hierarchy configures a controller.
type Hierarchy struct {
	Root         Level         `yaml:"root" json:"root"`
	Sub          Level         `yaml:"sub" json:"sub"`
	Detail       DetailRange   `yaml:"detail" json:"detail"`
	View         View          `yaml:"view" json:"view"`
	FitDuration  time.Duration `yaml:"fitDuration" json:"fitDuration"`
	HoverWindow  time.Duration `yaml:"hoverWindow" json:"hoverWindow"`
	FetchRetries int           `yaml:"fetchRetries" json:"fetchRetries"`
}

// DefaultHierarchy is the Moscow district drill-down.
func DefaultHierarchy() Hierarchy {
	return Hierarchy{
		Root: Level{
			Name:         "districts",
			Source:       "Moscow",
			Markers:      MarkersBadges,
			CodeProperty: "code",
			NameProperty: "name",
			Projection:   EPSG4326,
		},
		Sub: Level{
			Name:         "sub-districts",
			Source:       "districts/{code}",
			Markers:      MarkersBadges,
			CodeProperty: "code",
			NameProperty: "name",
			Projection:   EPSG4326,
		},
		Detail:       DetailRange{Min: 5, Max: 20},
		View:         View{Center: [2]float64{37.618423, 55.751244}, Zoom: 11, MinZoom: 11},
		FitDuration:  500 * time.Millisecond,
		HoverWindow:  100 * time.Millisecond,
		FetchRetries: 2,
	}
}

// Validate reports configuration that would break the state machine.
func (h Hierarchy) Validate() error {
	var errs []error
	if h.Root.Source == "" {
		errs = append(errs, errors.New("root.source is required"))
	}
	if h.Sub.Source == "" {
		errs = append(errs, errors.New("sub.source is required"))
	}
	for _, l := range []Level{h.Root, h.Sub} {
		switch l.Markers {
		case MarkersBadges, MarkersNone:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown marker policy %q", l.Name, l.Markers))
		}
		switch l.Projection {
		case EPSG4326, EPSG3857:
		default:
			errs = append(errs, fmt.Errorf("%s: unsupported projection %q", l.Name, l.Projection))
		}
	}
	if h.Detail.Min < 0 || h.Detail.Max < h.Detail.Min {
		errs = append(errs, fmt.Errorf("detail range [%d, %d] is empty", h.Detail.Min, h.Detail.Max))
	}
	if h.FitDuration < 0 || h.HoverWindow < 0 || h.FetchRetries < 0 {
		errs = append(errs, errors.New("durations and retries must not be negative"))
	}
	return errors.Join(errs...)
}

// LoadHierarchy reads a YAML file over the defaults. A missing file yields
// the defaults.
func LoadHierarchy(path string) (Hierarchy, error) {
	h := DefaultHierarchy()
	if path == "" {
		return h, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h, nil
		}
		return h, fmt.Errorf("reading hierarchy: %w", err)
	}
	if err := yaml.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("parsing hierarchy %s: %w", path, err)
	}
	if err := h.Validate(); err != nil {
		return h, fmt.Errorf("hierarchy %s: %w", path, err)
	}
	return h, nil
}
