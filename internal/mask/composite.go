package mask

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/paulmach/orb"
	"golang.org/x/image/vector"
)

// Silhouette rasterizes polys into an alpha mask covering rect, where view is
// the map extent the rect shows. Inner rings are drawn against the winding
// of their outer ring so they cancel.
func Silhouette(rect image.Rectangle, view orb.Bound, polys orb.MultiPolygon) *image.Alpha {
	dst := image.NewAlpha(rect)
	w, h := rect.Dx(), rect.Dy()
	dx := view.Max[0] - view.Min[0]
	dy := view.Max[1] - view.Min[1]
	if w == 0 || h == 0 || dx <= 0 || dy <= 0 || len(polys) == 0 {
		return dst
	}

	z := vector.NewRasterizer(w, h)
	z.DrawOp = draw.Src
	toPixel := func(p orb.Point) (float32, float32) {
		x := (p[0] - view.Min[0]) / dx * float64(w)
		y := (view.Max[1] - p[1]) / dy * float64(h)
		return float32(x), float32(y)
	}
	for _, poly := range polys {
		if len(poly) == 0 {
			continue
		}
		outer := poly[0].Orientation()
		for i, ring := range poly {
			if len(ring) < 3 {
				continue
			}
			if i > 0 && ring.Orientation() == outer {
				ring = ring.Clone()
				ring.Reverse()
			}
			z.MoveTo(toPixel(ring[0]))
			for _, p := range ring[1:] {
				z.LineTo(toPixel(p))
			}
			z.ClosePath()
		}
	}
	z.Draw(dst, dst.Bounds(), image.Opaque, rect.Min)
	return dst
}

// Compositor applies the two per-frame compositing operations. It keeps no
// state between frames.
type Compositor struct{}

// Composite erases the silhouette of m from outside (destination-out) and
// keeps only the silhouette in inside (destination-in). Both images show
// view over the same rect; either may be nil to skip that pass. An empty
// mask leaves both untouched.
func (Compositor) Composite(outside, inside *image.RGBA, view orb.Bound, m ClipMask) {
	if m.Empty() {
		return
	}
	var rect image.Rectangle
	switch {
	case outside != nil && inside != nil:
		rect = outside.Bounds().Union(inside.Bounds())
	case outside != nil:
		rect = outside.Bounds()
	case inside != nil:
		rect = inside.Bounds()
	default:
		return
	}
	sil := Silhouette(rect, view, m.Inside)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			a := sil.AlphaAt(x, y).A
			if outside != nil && image.Pt(x, y).In(outside.Bounds()) {
				scale(outside, x, y, 255-a)
			}
			if inside != nil && image.Pt(x, y).In(inside.Bounds()) {
				scale(inside, x, y, a)
			}
		}
	}
}

// scale multiplies a premultiplied pixel by k/255.
func scale(img *image.RGBA, x, y int, k uint8) {
	if k == 255 {
		return
	}
	i := img.PixOffset(x, y)
	for c := 0; c < 4; c++ {
		img.Pix[i+c] = uint8(uint32(img.Pix[i+c]) * uint32(k) / 255)
	}
}

// Preview composites two solid passes and layers them into one picture:
// the cut-out pass in base, the cut-in pass in highlight.
func Preview(size image.Point, view orb.Bound, m ClipMask, base, highlight color.Color) *image.RGBA {
	rect := image.Rectangle{Max: size}
	outside := image.NewRGBA(rect)
	inside := image.NewRGBA(rect)
	draw.Draw(outside, rect, image.NewUniform(base), image.Point{}, draw.Src)
	draw.Draw(inside, rect, image.NewUniform(highlight), image.Point{}, draw.Src)

	Compositor{}.Composite(outside, inside, view, m)
	draw.Draw(outside, rect, inside, image.Point{}, draw.Over)
	return outside
}
