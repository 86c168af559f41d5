// Package glyph approximates blocks of quantized pixels with two-color block
// drawing characters.
package glyph

// Quadrant bits of a glyph pattern on a 2x2 grid.
const (
	upperLeft = 1 << iota
	upperRight
	lowerLeft
	lowerRight
)

// Glyph is one bi-level block symbol. Quadrants marks the "on" (foreground)
// quadrants; the pattern is stretched over the whole cell.
type Glyph struct {
	Rune      rune
	Name      string
	Quadrants uint8
}

// Full is the index of the full block glyph.
const Full = 0

// Space is the index of the empty glyph.
const Space = 15

// Set is the fixed glyph table. A glyph's wire value is its index here.
var Set = [...]Glyph{
	{'█', "full", upperLeft | upperRight | lowerLeft | lowerRight},
	{'▀', "upper half", upperLeft | upperRight},
	{'▄', "lower half", lowerLeft | lowerRight},
	{'▌', "left half", upperLeft | lowerLeft},
	{'▐', "right half", upperRight | lowerRight},
	{'▘', "upper left", upperLeft},
	{'▝', "upper right", upperRight},
	{'▖', "lower left", lowerLeft},
	{'▗', "lower right", lowerRight},
	{'▚', "diagonal", upperLeft | lowerRight},
	{'▞', "anti-diagonal", upperRight | lowerLeft},
	{'▛', "missing lower right", upperLeft | upperRight | lowerLeft},
	{'▜', "missing lower left", upperLeft | upperRight | lowerRight},
	{'▙', "missing upper right", upperLeft | lowerLeft | lowerRight},
	{'▟', "missing upper left", upperRight | lowerLeft | lowerRight},
	{' ', "space", 0},
}

// Rune returns the character for a wire glyph index, or '?' when the index
// is outside the set.
func Rune(index byte) rune {
	if int(index) >= len(Set) {
		return '?'
	}
	return Set[index].Rune
}

// Mask stretches the glyph's quadrant pattern over a w x h cell and returns
// one bool per pixel, row-major. Pixel (dx, dy) falls in quadrant
// (2*dx/w, 2*dy/h).
func (g Glyph) Mask(w, h int) []bool {
	mask := make([]bool, w*h)
	for dy := 0; dy < h; dy++ {
		lower := 2*dy/h == 1
		for dx := 0; dx < w; dx++ {
			right := 2*dx/w == 1
			var bit uint8
			switch {
			case !lower && !right:
				bit = upperLeft
			case !lower && right:
				bit = upperRight
			case lower && !right:
				bit = lowerLeft
			default:
				bit = lowerRight
			}
			mask[dy*w+dx] = g.Quadrants&bit != 0
		}
	}
	return mask
}
