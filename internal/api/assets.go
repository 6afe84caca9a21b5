package api

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"os"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-regions/internal/badge"
	"github.com/joeblew999/plat-regions/internal/heatmap"
	"github.com/joeblew999/plat-regions/internal/mask"
	"github.com/joeblew999/plat-regions/internal/region"
	"github.com/joeblew999/plat-regions/internal/scene"
	"github.com/joeblew999/plat-regions/internal/service"
)

// RawOutput is a non-JSON response body.
type RawOutput struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

// worldLonLat bounds synthetic field points.
var worldLonLat = orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}

// RegisterBadges registers the marker badge routes.
func (h *APIHandler) RegisterBadges(api huma.API) {
	tags := huma.OperationTags("badges")
	huma.Get(api, "/api/v1/badge", h.GetBadge, tags)
	huma.Get(api, "/api/v1/badge.svg", h.GetBadgeSVG, tags)
	huma.Get(api, "/api/v1/badge.png", h.GetBadgePNG, tags)
}

// BadgeInput selects the label and the random draw of a badge.
type BadgeInput struct {
	Label string `query:"label" doc:"Label value; empty draws a random one, non-numeric yields the sentinel" example:"42"`
	Seed  uint64 `query:"seed" doc:"Seed for the ring segments; 0 draws a fresh badge"`
	Size  int    `query:"size" default:"45" minimum:"1" maximum:"1024" doc:"PNG edge length in pixels"`
}

func (in *BadgeInput) generate() badge.IconDescriptor {
	seed := in.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	f := badge.NewFactory()
	var key string
	r := &region.Region{Properties: geojson.Properties{}}
	if in.Label != "" {
		key = "label"
		r.Properties[key] = in.Label
	}
	return f.Generate(orb.Point{}, f.LabelFor(r, key, rng), rng)
}

func (h *APIHandler) GetBadge(ctx context.Context, input *BadgeInput) (*struct{ Body badge.IconDescriptor }, error) {
	return &struct{ Body badge.IconDescriptor }{Body: input.generate()}, nil
}

func (h *APIHandler) GetBadgeSVG(ctx context.Context, input *BadgeInput) (*RawOutput, error) {
	icon := input.generate()
	return &RawOutput{ContentType: "image/svg+xml", CacheControl: "no-store", Body: []byte(icon.SVG)}, nil
}

func (h *APIHandler) GetBadgePNG(ctx context.Context, input *BadgeInput) (*RawOutput, error) {
	icon := input.generate()
	var buf bytes.Buffer
	if err := badge.RasterizePNG(&buf, icon.SVG, input.Size); err != nil {
		return nil, huma.Error500InternalServerError("rasterizing badge", err)
	}
	return &RawOutput{ContentType: "image/png", CacheControl: "no-store", Body: buf.Bytes()}, nil
}

// RegisterMask registers the clip mask routes.
func (h *APIHandler) RegisterMask(api huma.API) {
	tags := huma.OperationTags("mask")
	huma.Get(api, "/api/v1/mask", h.GetMask, tags)
	huma.Get(api, "/api/v1/mask.png", h.GetMaskPNG, tags)
}

// MaskInput names the boundary dataset a mask is derived from.
type MaskInput struct {
	Key    string `query:"key" doc:"Boundary dataset key (defaults to the scene clip dataset)" example:"moscow_full"`
	Width  int    `query:"width" default:"512" minimum:"1" maximum:"4096"`
	Height int    `query:"height" default:"512" minimum:"1" maximum:"4096"`
}

func (h *APIHandler) deriveMask(ctx context.Context, key string) (mask.ClipMask, orb.Bound, error) {
	if key == "" {
		key = h.svc.Scenes.Clip
	}
	fc, err := h.svc.Fetcher.Fetch(ctx, key)
	if err != nil {
		return mask.ClipMask{}, orb.Bound{}, fetchError(key, err)
	}
	coll, err := region.FromFeatureCollection(key, fc, region.DecodeOptions{Project: true})
	if err != nil {
		return mask.ClipMask{}, orb.Bound{}, huma.Error422UnprocessableEntity(err.Error())
	}
	return mask.Derive(coll, mask.World), coll.Bound(), nil
}

func (h *APIHandler) GetMask(ctx context.Context, input *MaskInput) (*struct{ Body *geojson.FeatureCollection }, error) {
	m, _, err := h.deriveMask(ctx, input.Key)
	if err != nil {
		return nil, err
	}
	return &struct{ Body *geojson.FeatureCollection }{Body: m.FeatureCollection()}, nil
}

// GetMaskPNG previews both compositing passes over the boundary extent.
func (h *APIHandler) GetMaskPNG(ctx context.Context, input *MaskInput) (*RawOutput, error) {
	m, view, err := h.deriveMask(ctx, input.Key)
	if err != nil {
		return nil, err
	}
	if m.Empty() {
		return nil, huma.Error422UnprocessableEntity("boundary has no polygons")
	}
	view = view.Pad(0.1 * max(view.Max[0]-view.Min[0], view.Max[1]-view.Min[1]))
	img := mask.Preview(image.Pt(input.Width, input.Height), view, m,
		color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff},
		color.RGBA{R: 0xff, G: 0xe4, B: 0xc4, A: 0xff})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, huma.Error500InternalServerError("encoding mask preview", err)
	}
	return &RawOutput{ContentType: "image/png", Body: buf.Bytes()}, nil
}

// RegisterFields registers the heatmap and IDW field routes.
func (h *APIHandler) RegisterFields(api huma.API) {
	huma.Get(api, "/api/v1/fields/{kind}", h.GetField, huma.OperationTags("fields"))
}

// FieldInput selects the field kind and its point source.
type FieldInput struct {
	Kind   string `path:"kind" enum:"heatmap,idw"`
	Source string `query:"source" doc:"Point dataset key (KML or GeoJSON); empty scatters random points" example:"2012_Earthquakes_Mag5"`
	Weight string `query:"weight" default:"mag" doc:"GeoJSON property holding the weight"`
	Count  int    `query:"count" default:"200" minimum:"1" maximum:"100000" doc:"Number of random points"`
	Seed   uint64 `query:"seed" doc:"Seed for random points; 0 draws fresh ones"`
	Scale  string `query:"scale" enum:"clamp,range" default:"clamp" doc:"clamp keeps absolute weights clipped to [0,1]; range stretches the dataset's min..max"`
}

func (h *APIHandler) fieldSource(ctx context.Context, in *FieldInput) (heatmap.Source, error) {
	if in.Source == "" {
		var rng *rand.Rand
		if in.Seed != 0 {
			rng = rand.New(rand.NewPCG(in.Seed, in.Seed))
		}
		return heatmap.Synthetic{Bound: worldLonLat, Count: in.Count, Rand: rng}, nil
	}
	if path, err := h.svc.Datasets.ResolveFile(in.Source + ".kml"); err == nil {
		if _, err := os.Stat(path); err == nil {
			return heatmap.KMLFile{Path: path}, nil
		}
	}
	fc, err := h.svc.Fetcher.Fetch(ctx, in.Source)
	if err != nil {
		return nil, fetchError(in.Source, err)
	}
	return heatmap.GeoJSONPoints{Features: fc, WeightProperty: in.Weight}, nil
}

func (h *APIHandler) GetField(ctx context.Context, input *FieldInput) (*struct{ Body heatmap.FieldLayer }, error) {
	src, err := h.fieldSource(ctx, input)
	if err != nil {
		return nil, err
	}
	scaling := heatmap.Scaling(input.Scale)
	var layer heatmap.FieldLayer
	if heatmap.Kind(input.Kind) == heatmap.KindIDW {
		b := heatmap.DefaultIDW()
		b.Scaling = scaling
		layer, err = b.Build(ctx, src)
	} else {
		b := heatmap.DefaultHeatmap()
		b.Scaling = scaling
		layer, err = b.Build(ctx, src)
	}
	if errors.Is(err, heatmap.ErrNoPoints) {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("building field", err)
	}
	return &struct{ Body heatmap.FieldLayer }{Body: layer}, nil
}

// SceneSummary lists one variant.
type SceneSummary struct {
	Variant int    `json:"variant"`
	Title   string `json:"title"`
}

// RegisterScenes registers scene and dataset listing routes.
func (h *APIHandler) RegisterScenes(api huma.API) {
	tags := huma.OperationTags("scenes")
	huma.Get(api, "/api/v1/scenes", h.ListScenes, tags)
	huma.Get(api, "/api/v1/scenes/{variant}", h.GetScene, tags)
	huma.Get(api, "/api/v1/datasets", h.ListDatasets, huma.OperationTags("datasets"))
}

func (h *APIHandler) ListScenes(ctx context.Context, input *struct{}) (*struct{ Body []SceneSummary }, error) {
	titles := scene.Titles()
	out := make([]SceneSummary, len(titles))
	for i, t := range titles {
		out[i] = SceneSummary{Variant: i + 1, Title: t}
	}
	return &struct{ Body []SceneSummary }{Body: out}, nil
}

func (h *APIHandler) GetScene(ctx context.Context, input *struct {
	Variant int `path:"variant" minimum:"1" doc:"Scene variant"`
}) (*struct{ Body scene.Scene }, error) {
	sc, err := scene.Assemble(input.Variant, h.svc.Scenes)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return &struct{ Body scene.Scene }{Body: sc}, nil
}

func (h *APIHandler) ListDatasets(ctx context.Context, input *struct{}) (*struct{ Body []service.Dataset }, error) {
	ds, err := h.svc.Datasets.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("listing datasets", err)
	}
	return &struct{ Body []service.Dataset }{Body: ds}, nil
}
