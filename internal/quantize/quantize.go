// Package quantize reduces an RGB image to a small palette and a
// Floyd-Steinberg dithered index image.
//
// The palette comes from a median cut over the image's exact color
// histogram. Every step works on sorted slices, so the output depends only on
// the input pixels and the color budget.
package quantize

import (
	"image"
	"image/draw"
	"sort"

	"github.com/glyphcast/glyphcast/internal/frame"
)

// MaxColors is the largest palette Quantize produces; index images use one
// byte per pixel.
const MaxColors = 256

type colorCount struct {
	rgb   [3]uint8
	key   uint32
	count int
}

type box struct {
	colors []colorCount
	pixels int
}

// Quantize returns a palette of at most maxColors entries and the
// row-major index image of img against it. maxColors is clamped to
// [1, MaxColors]. A zero-area image yields an empty palette and index image.
func Quantize(img image.Image, maxColors uint16) (frame.Palette, []byte) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return frame.Palette{}, []byte{}
	}

	limit := int(maxColors)
	if limit < 1 {
		limit = 1
	}
	if limit > MaxColors {
		limit = MaxColors
	}

	palette := medianCut(histogram(img), limit)

	dst := image.NewPaletted(image.Rect(0, 0, bounds.Dx(), bounds.Dy()), palette.Colors())
	draw.FloydSteinberg.Draw(dst, dst.Bounds(), img, bounds.Min)
	return palette, dst.Pix
}

func histogram(img image.Image) []colorCount {
	counts := make(map[uint32]int)
	bounds := img.Bounds()

	if rgba, ok := img.(*image.RGBA); ok {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			row := rgba.Pix[rgba.PixOffset(bounds.Min.X, y):rgba.PixOffset(bounds.Max.X, y)]
			for i := 0; i < len(row); i += 4 {
				counts[pack(row[i], row[i+1], row[i+2])]++
			}
		}
	} else {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				c := frame.FromColor(img.At(x, y))
				counts[pack(c.R, c.G, c.B)]++
			}
		}
	}

	out := make([]colorCount, 0, len(counts))
	for key, n := range counts {
		out = append(out, colorCount{
			rgb:   [3]uint8{uint8(key >> 16), uint8(key >> 8), uint8(key)},
			key:   key,
			count: n,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func pack(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// medianCut partitions a color histogram into at most limit boxes and
// returns each box's pixel-weighted mean color.
func medianCut(hist []colorCount, limit int) frame.Palette {
	if len(hist) == 0 || limit < 1 {
		return frame.Palette{}
	}

	total := 0
	for _, c := range hist {
		total += c.count
	}
	boxes := []box{{colors: hist, pixels: total}}

	for len(boxes) < limit {
		idx := pickBox(boxes)
		if idx < 0 {
			break
		}
		left, right := splitBox(boxes[idx])
		boxes = append(boxes, box{})
		copy(boxes[idx+2:], boxes[idx+1:])
		boxes[idx] = left
		boxes[idx+1] = right
	}

	palette := make(frame.Palette, len(boxes))
	for i, b := range boxes {
		palette[i] = b.mean()
	}
	return palette
}

// pickBox selects the splittable box with the widest channel range, then the
// most pixels, then the lowest position. It returns -1 when every box holds a
// single color.
func pickBox(boxes []box) int {
	best, bestRange, bestPixels := -1, -1, -1
	for i, b := range boxes {
		if len(b.colors) < 2 {
			continue
		}
		_, r := b.widestChannel()
		if r > bestRange || (r == bestRange && b.pixels > bestPixels) {
			best, bestRange, bestPixels = i, r, b.pixels
		}
	}
	return best
}

func (b box) widestChannel() (channel, span int) {
	lo := [3]uint8{255, 255, 255}
	var hi [3]uint8
	for _, c := range b.colors {
		for ch := 0; ch < 3; ch++ {
			if c.rgb[ch] < lo[ch] {
				lo[ch] = c.rgb[ch]
			}
			if c.rgb[ch] > hi[ch] {
				hi[ch] = c.rgb[ch]
			}
		}
	}
	span = -1
	for ch := 0; ch < 3; ch++ {
		if r := int(hi[ch]) - int(lo[ch]); r > span {
			channel, span = ch, r
		}
	}
	return channel, span
}

func splitBox(b box) (box, box) {
	ch, _ := b.widestChannel()
	colors := make([]colorCount, len(b.colors))
	copy(colors, b.colors)
	sort.Slice(colors, func(i, j int) bool {
		if colors[i].rgb[ch] != colors[j].rgb[ch] {
			return colors[i].rgb[ch] < colors[j].rgb[ch]
		}
		return colors[i].key < colors[j].key
	})

	half := (b.pixels + 1) / 2
	cut, seen := 1, 0
	for i, c := range colors {
		seen += c.count
		if seen >= half {
			cut = i + 1
			break
		}
	}
	if cut >= len(colors) {
		cut = len(colors) - 1
	}

	left := box{colors: colors[:cut]}
	right := box{colors: colors[cut:]}
	for _, c := range left.colors {
		left.pixels += c.count
	}
	right.pixels = b.pixels - left.pixels
	return left, right
}

func (b box) mean() frame.RGB {
	var sum [3]int
	for _, c := range b.colors {
		for ch := 0; ch < 3; ch++ {
			sum[ch] += int(c.rgb[ch]) * c.count
		}
	}
	if b.pixels == 0 {
		return frame.RGB{}
	}
	round := func(v int) uint8 { return uint8((v + b.pixels/2) / b.pixels) }
	return frame.RGB{R: round(sum[0]), G: round(sum[1]), B: round(sum[2])}
}
