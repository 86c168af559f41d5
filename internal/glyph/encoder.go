package glyph

import (
	"errors"
	"fmt"

	"github.com/glyphcast/glyphcast/internal/frame"
)

// ErrIndexImage is returned when an index image does not match its declared
// size or references colors outside the palette.
var ErrIndexImage = errors.New("invalid index image")

// Encoder maps an index image onto a grid of glyph cells.
type Encoder struct {
	cellW, cellH int
	masks        [len(Set)][]bool
}

// Result is one encoded frame plus the search's summed delta-E error.
type Result struct {
	Frame   *frame.Frame
	Error   float64
	Uniform int // cells that took the single-color shortcut
}

// NewEncoder builds an encoder for cellW x cellH pixel cells.
func NewEncoder(cellW, cellH int) (*Encoder, error) {
	if cellW < 1 || cellH < 1 {
		return nil, fmt.Errorf("glyph encoder: cell size %dx%d must be positive", cellW, cellH)
	}
	e := &Encoder{cellW: cellW, cellH: cellH}
	for i, g := range Set {
		e.masks[i] = g.Mask(cellW, cellH)
	}
	return e, nil
}

// CellSize returns the configured cell width and height in pixels.
func (e *Encoder) CellSize() (int, int) {
	return e.cellW, e.cellH
}

// cellChoice is the selected glyph and colors for one cell.
type cellChoice struct {
	glyph, fg, bg byte
	err           float64
}

// Encode selects a glyph, foreground and background for every cell of the
// width x height index image. Cells hanging over the right or bottom edge
// are padded with black, and the padding counts toward the error.
func (e *Encoder) Encode(index []byte, width, height int, palette frame.Palette) (*Result, error) {
	if width < 0 || height < 0 || len(index) != width*height {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", ErrIndexImage, len(index), width, height)
	}
	if len(palette) > 256 {
		return nil, fmt.Errorf("%w: palette of %d colors cannot be indexed by a byte", ErrIndexImage, len(palette))
	}
	for i, v := range index {
		if int(v) >= len(palette) {
			return nil, fmt.Errorf("%w: pixel %d uses color %d, palette has %d", ErrIndexImage, i, v, len(palette))
		}
	}

	cols, rows := frame.GridSize(width, height, e.cellW, e.cellH)
	cells := cols * rows
	out := &frame.Frame{
		Palette:    append(frame.Palette(nil), palette...),
		Width:      cols,
		Height:     rows,
		Glyphs:     make([]byte, cells),
		Foreground: make([]byte, cells),
		Background: make([]byte, cells),
	}
	res := &Result{Frame: out}
	if cells == 0 {
		return res, nil
	}

	table := newDistanceTable(palette)
	pixels := make([]int, e.cellW*e.cellH)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			e.gather(pixels, index, width, height, col*e.cellW, row*e.cellH, table.padding())

			choice, uniform := e.shortcut(pixels, table.padding())
			if uniform {
				res.Uniform++
			} else {
				choice = e.search(pixels, table)
			}

			i := row*cols + col
			out.Glyphs[i], out.Foreground[i], out.Background[i] = choice.glyph, choice.fg, choice.bg
			res.Error += choice.err
		}
	}
	return res, nil
}

// gather copies one cell's palette indices into pixels, using pad for
// positions outside the image.
func (e *Encoder) gather(pixels []int, index []byte, width, height, x0, y0, pad int) {
	for dy := 0; dy < e.cellH; dy++ {
		y := y0 + dy
		for dx := 0; dx < e.cellW; dx++ {
			x := x0 + dx
			p := pad
			if x < width && y < height {
				p = int(index[y*width+x])
			}
			pixels[dy*e.cellW+dx] = p
		}
	}
}

// shortcut handles cells covered by one real palette color.
func (e *Encoder) shortcut(pixels []int, pad int) (cellChoice, bool) {
	first := pixels[0]
	if first == pad {
		return cellChoice{}, false
	}
	for _, p := range pixels[1:] {
		if p != first {
			return cellChoice{}, false
		}
	}
	return cellChoice{glyph: Full, fg: byte(first), bg: byte(first)}, true
}

// candidates returns the cell's majority color and the real color farthest
// from it in delta-E. Ties prefer the higher count, then the lower index.
func candidates(pixels []int, table *distanceTable) (int, int) {
	type tally struct{ color, count int }
	var seen []tally
	for _, p := range pixels {
		if p == table.padding() {
			continue
		}
		found := false
		for i := range seen {
			if seen[i].color == p {
				seen[i].count++
				found = true
				break
			}
		}
		if !found {
			seen = append(seen, tally{color: p, count: 1})
		}
	}

	major := seen[0]
	for _, t := range seen[1:] {
		if t.count > major.count || (t.count == major.count && t.color < major.color) {
			major = t
		}
	}

	contrast := major
	best := -1.0
	for _, t := range seen {
		if t.color == major.color {
			continue
		}
		d := table.at(t.color, major.color)
		switch {
		case d > best,
			d == best && t.count > contrast.count,
			d == best && t.count == contrast.count && t.color < contrast.color:
			contrast, best = t, d
		}
	}
	return major.color, contrast.color
}

// search evaluates every glyph with both assignments of the two candidate
// colors and keeps the lowest summed delta-E. Iteration order (glyph, then
// fg, then bg, all ascending) together with the strict comparison breaks
// ties toward the lowest indices.
func (e *Encoder) search(pixels []int, table *distanceTable) cellChoice {
	c1, c2 := candidates(pixels, table)
	if c2 < c1 {
		c1, c2 = c2, c1
	}
	pairs := [][2]int{{c1, c2}, {c2, c1}}
	if c1 == c2 {
		pairs = pairs[:1]
	}

	best := cellChoice{err: -1}
	for g := range Set {
		mask := e.masks[g]
		for _, pair := range pairs {
			fg, bg := pair[0], pair[1]
			sum := 0.0
			for i, p := range pixels {
				if mask[i] {
					sum += table.at(p, fg)
				} else {
					sum += table.at(p, bg)
				}
			}
			if best.err < 0 || sum < best.err {
				best = cellChoice{glyph: byte(g), fg: byte(fg), bg: byte(bg), err: sum}
			}
		}
	}
	return best
}
