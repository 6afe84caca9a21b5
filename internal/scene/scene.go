// Package scene assembles the layer stack a numeric variant selects.
package scene

import (
	"errors"
	"fmt"
)

// ErrUnknownVariant is returned for variants outside 1..Count.
var ErrUnknownVariant = errors.New("unknown scene variant")

// Kind is the render engine layer type.
type Kind string

const (
	KindTile    Kind = "tile"
	KindVector  Kind = "vector"
	KindHeatmap Kind = "heatmap"
	KindIDW     Kind = "idw"
	KindBadges  Kind = "badges"
)

// Composite operations the mask compositor implements.
const (
	DestinationOut = "destination-out"
	DestinationIn  = "destination-in"
)

// BaseFilter dims the OSM tiles under the region overlay.
const BaseFilter = "grayscale(80%) invert(100%) hue-rotate(0deg)"

// Layer describes one layer, bottom to top.
type Layer struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind" enum:"tile,vector,heatmap,idw,badges"`
	// Source is a tile URL template or a dataset key.
	Source string `json:"source"`
	Filter string `json:"filter,omitempty" doc:"CSS filter applied while the layer renders"`
	// Composite and Mask pair a tile pass with the mask it is clipped by.
	Composite   string `json:"composite,omitempty" enum:"destination-out,destination-in"`
	Mask        string `json:"mask,omitempty" doc:"Dataset key of the clip geometry"`
	Interactive bool   `json:"interactive,omitempty" doc:"Layer receives click and hover"`
	Hidden      bool   `json:"hidden,omitempty" doc:"Layer only provides geometry"`
}

// Scene is an assembled variant.
type Scene struct {
	Variant int     `json:"variant"`
	Title   string  `json:"title"`
	Layers  []Layer `json:"layers"`
}

// Sources names the datasets scenes are built from.
type Sources struct {
	Tiles   string `json:"tiles"`
	Regions string `json:"regions"`
	Clip    string `json:"clip"`
	Points  string `json:"points"`
}

// DefaultSources are the Moscow demo datasets over OSM.
func DefaultSources() Sources {
	return Sources{
		Tiles:   "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		Regions: "Moscow",
		Clip:    "moscow_full",
		Points:  "2012_Earthquakes_Mag5",
	}
}

// Count is the number of variants.
const Count = 5

var titles = [Count + 1]string{
	1: "Regions with badges",
	2: "Dual-tile clip",
	3: "Clip with earthquake heatmap",
	4: "District drill-down",
	5: "Drill-down with IDW field",
}

// Titles lists the variant titles, index 0 being variant 1.
func Titles() []string {
	return append([]string(nil), titles[1:]...)
}

// Assemble builds the layer stack for a variant.
func Assemble(variant int, src Sources) (Scene, error) {
	if variant < 1 || variant > Count {
		return Scene{}, fmt.Errorf("%w: %d", ErrUnknownVariant, variant)
	}
	base := Layer{ID: "base", Kind: KindTile, Source: src.Tiles, Filter: BaseFilter}
	regions := Layer{ID: "regions", Kind: KindVector, Source: src.Regions}
	badges := Layer{ID: "badges", Kind: KindBadges, Source: src.Regions}

	var layers []Layer
	switch variant {
	case 1:
		layers = []Layer{base, regions, badges}
	case 2, 3:
		clipTile := Layer{ID: "clip", Kind: KindTile, Source: src.Tiles, Filter: BaseFilter,
			Composite: DestinationIn, Mask: src.Clip}
		outside := base
		outside.Composite = DestinationOut
		outside.Mask = src.Clip
		clipVector := Layer{ID: "clip-vector", Kind: KindVector, Source: src.Clip, Hidden: true}
		layers = []Layer{clipTile}
		if variant == 3 {
			layers = append(layers, Layer{ID: "heatmap", Kind: KindHeatmap, Source: src.Points})
		}
		layers = append(layers, outside, clipVector, regions, badges)
	case 4, 5:
		regions.Interactive = true
		layers = []Layer{base}
		if variant == 5 {
			layers = append(layers, Layer{ID: "idw", Kind: KindIDW, Source: src.Points})
		}
		layers = append(layers,
			regions,
			Layer{ID: "sub", Kind: KindVector, Source: "session:sub", Interactive: true},
			Layer{ID: "details", Kind: KindVector, Source: "session:details"},
			Layer{ID: "badges", Kind: KindBadges, Source: "session:markers"},
		)
	}
	return Scene{Variant: variant, Title: titles[variant], Layers: layers}, nil
}
