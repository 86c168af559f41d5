// Package frame holds the encoded glyph-grid frame model and its binary wire
// codec.
package frame

import (
	"fmt"
	"image/color"
)

// RGB is one palette entry.
type RGB struct {
	R, G, B uint8
}

// RGBA converts the entry to an opaque color.RGBA.
func (c RGB) RGBA() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
}

// Hex returns the entry as "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// FromColor converts any color.Color to an RGB entry, dropping alpha.
func FromColor(c color.Color) RGB {
	r, g, b, _ := c.RGBA()
	return RGB{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
}

// Palette is the ordered set of colors a frame's cells index into.
type Palette []RGB

// Colors converts the palette for use with image.Paletted.
func (p Palette) Colors() color.Palette {
	out := make(color.Palette, len(p))
	for i, c := range p {
		out[i] = c.RGBA()
	}
	return out
}

// Frame is one encoded glyph grid. The three cell arrays are parallel and
// row-major over a Width x Height grid.
type Frame struct {
	Palette    Palette
	Width      int
	Height     int
	Glyphs     []byte
	Foreground []byte
	Background []byte
}

// CellCount returns Width*Height.
func (f *Frame) CellCount() int {
	return f.Width * f.Height
}

// Cell returns the glyph, foreground and background of the cell at (row, col).
func (f *Frame) Cell(row, col int) (glyph, fg, bg byte) {
	i := row*f.Width + col
	return f.Glyphs[i], f.Foreground[i], f.Background[i]
}

// GridSize returns the number of cells needed to cover a width x height
// image with cellW x cellH cells (ceiling division).
func GridSize(width, height, cellW, cellH int) (cols, rows int) {
	if width <= 0 || height <= 0 || cellW <= 0 || cellH <= 0 {
		return 0, 0
	}
	return (width + cellW - 1) / cellW, (height + cellH - 1) / cellH
}
