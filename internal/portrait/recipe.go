package portrait

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Recipe is a fixed chain of local filters approximating a style. Percentages
// follow imaging's conventions (-100..100).
type Recipe struct {
	Grayscale   bool
	Brightness  float64
	Saturation  float64
	Contrast    float64
	Tint        color.NRGBA
	TintOpacity float64
	// Sharpen wins over Blur when both are set.
	Sharpen float64
	Blur    float64
}

// Apply runs the recipe on img. It is pure: the same input always yields the
// same pixels.
func (r Recipe) Apply(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	if r.Grayscale {
		out = imaging.Grayscale(out)
	}
	if r.Brightness != 0 {
		out = imaging.AdjustBrightness(out, r.Brightness)
	}
	if r.Saturation != 0 {
		out = imaging.AdjustSaturation(out, r.Saturation)
	}
	if r.Contrast != 0 {
		out = imaging.AdjustContrast(out, r.Contrast)
	}
	if r.TintOpacity > 0 {
		b := out.Bounds()
		layer := imaging.New(b.Dx(), b.Dy(), r.Tint)
		out = imaging.Overlay(out, layer, image.Pt(0, 0), r.TintOpacity)
	}
	switch {
	case r.Sharpen > 0:
		out = imaging.Sharpen(out, r.Sharpen)
	case r.Blur > 0:
		out = imaging.Blur(out, r.Blur)
	}
	return out
}
