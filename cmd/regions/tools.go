package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-regions/internal/badge"
	"github.com/joeblew999/plat-regions/internal/drilldown"
	"github.com/joeblew999/plat-regions/internal/heatmap"
	"github.com/joeblew999/plat-regions/internal/region"
)

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// hierarchyCmd prints the effective drill-down hierarchy.
func hierarchyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hierarchy",
		Short: "Print the effective drill-down hierarchy as YAML",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			h, err := drilldown.LoadHierarchy(opts.Hierarchy)
			if err != nil {
				fail("%v", err)
			}
			out, err := yaml.Marshal(h)
			if err != nil {
				fail("%v", err)
			}
			fmt.Print(string(out))
		}),
	}
}

// badgeCmd renders one marker badge.
func badgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "badge [label]",
		Short: "Render a marker badge as SVG, or PNG with --png",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			seed, _ := cmd.Flags().GetUint64("seed")
			if seed == 0 {
				seed = rand.Uint64()
			}
			rng := rand.New(rand.NewPCG(seed, seed))
			f := badge.NewFactory()

			r := &region.Region{Properties: geojson.Properties{}}
			key := ""
			if len(args) == 1 {
				key = "label"
				r.Properties[key] = args[0]
			}
			icon := f.Generate(orb.Point{}, f.LabelFor(r, key, rng), rng)

			out, _ := cmd.Flags().GetString("png")
			if out == "" {
				fmt.Println(icon.SVG)
				return
			}
			size, _ := cmd.Flags().GetInt("size")
			file, err := os.Create(out)
			if err != nil {
				fail("%v", err)
			}
			defer file.Close()
			if err := badge.RasterizePNG(file, icon.SVG, size); err != nil {
				fail("%v", err)
			}
		},
	}
	cmd.Flags().Uint64("seed", 0, "Seed for the ring segments (0 = random)")
	cmd.Flags().String("png", "", "Write a PNG to this path instead of printing SVG")
	cmd.Flags().Int("size", 150, "PNG edge length in pixels")
	return cmd
}

// fieldCmd builds a heatmap or IDW layer from a file or random points and
// prints its points as GeoJSON.
func fieldCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "field",
		Short: "Build a heatmap or IDW field and print it as GeoJSON",
		Run: func(cmd *cobra.Command, args []string) {
			kind, _ := cmd.Flags().GetString("kind")
			kml, _ := cmd.Flags().GetString("kml")
			count, _ := cmd.Flags().GetInt("count")
			scale, _ := cmd.Flags().GetString("scale")

			var src heatmap.Source = heatmap.Synthetic{
				Bound: orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}},
				Count: count,
			}
			if kml != "" {
				src = heatmap.KMLFile{Path: kml}
			}

			ctx := context.Background()
			var layer heatmap.FieldLayer
			var err error
			switch heatmap.Kind(kind) {
			case heatmap.KindHeatmap:
				b := heatmap.DefaultHeatmap()
				b.Scaling = heatmap.Scaling(scale)
				layer, err = b.Build(ctx, src)
			case heatmap.KindIDW:
				b := heatmap.DefaultIDW()
				b.Scaling = heatmap.Scaling(scale)
				layer, err = b.Build(ctx, src)
			default:
				fail("unknown field kind %q", kind)
			}
			if err != nil {
				fail("%v", err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(layer.FeatureCollection()); err != nil {
				fail("%v", err)
			}
		},
	}
	cmd.Flags().String("kind", "heatmap", "Field kind: heatmap or idw")
	cmd.Flags().String("kml", "", "KML file of placemarks (default: random points)")
	cmd.Flags().Int("count", 200, "Number of random points")
	cmd.Flags().String("scale", "clamp", "Weight scaling: clamp or range")
	return cmd
}
