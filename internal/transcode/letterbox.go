package transcode

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Fit returns the largest rectangle with src's aspect ratio that fits inside
// a w x h canvas, centered on it. A zero-area src yields an empty rectangle.
func Fit(src image.Rectangle, w, h int) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw <= 0 || sh <= 0 || w <= 0 || h <= 0 {
		return image.Rectangle{}
	}

	// Compare sw/sh against w/h without floating point.
	dw, dh := w, h
	if sw*h > w*sh {
		dh = sh * w / sw
		if dh < 1 {
			dh = 1
		}
	} else {
		dw = sw * h / sh
		if dw < 1 {
			dw = 1
		}
	}
	x0 := (w - dw) / 2
	y0 := (h - dh) / 2
	return image.Rect(x0, y0, x0+dw, y0+dh)
}

// Letterbox scales src to fit dst while keeping its aspect ratio and fills
// the uncovered bars with border.
func Letterbox(dst *image.RGBA, src image.Image, border color.Color) {
	b := dst.Bounds()
	draw.Draw(dst, b, image.NewUniform(border), image.Point{}, draw.Src)

	fit := Fit(src.Bounds(), b.Dx(), b.Dy())
	if fit.Empty() {
		return
	}
	fit = fit.Add(b.Min)
	draw.ApproxBiLinear.Scale(dst, fit, src, src.Bounds(), draw.Src, nil)
}
