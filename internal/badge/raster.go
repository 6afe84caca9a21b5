package badge

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// RasterizePNG renders an icon SVG into a size×size PNG. The rasterizer has
// no text support, so the label is left out of the bitmap.
func RasterizePNG(w io.Writer, svg string, size int) error {
	if size <= 0 {
		return fmt.Errorf("invalid badge size %d", size)
	}
	icon, err := oksvg.ReadIconStream(strings.NewReader(svg), oksvg.IgnoreErrorMode)
	if err != nil {
		return fmt.Errorf("parsing badge svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1)

	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encoding badge png: %w", err)
	}
	return nil
}
