package glyph

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/glyphcast/glyphcast/internal/frame"
)

// Lab is a CIE-L*a*b* color (D65), L* in [0, 100].
type Lab struct {
	L, A, B float64
}

// ToLab converts an sRGB palette entry to Lab.
func ToLab(c frame.RGB) Lab {
	l, a, b := colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.Lab()
	return Lab{L: l * 100, A: a * 100, B: b * 100}
}

// DeltaE76 is the Euclidean distance between two Lab colors.
func DeltaE76(x, y Lab) float64 {
	dl, da, db := x.L-y.L, x.A-y.A, x.B-y.B
	return math.Sqrt(dl*dl + da*da + db*db)
}

// distanceTable caches delta-E between every palette entry, plus one extra
// row for the black padding used outside the image.
type distanceTable struct {
	n    int
	dist []float64
}

// padding returns the row index reserved for padding pixels.
func (t *distanceTable) padding() int {
	return t.n
}

func (t *distanceTable) at(pixel, color int) float64 {
	return t.dist[pixel*t.n+color]
}

func newDistanceTable(palette frame.Palette) *distanceTable {
	n := len(palette)
	labs := make([]Lab, n+1)
	for i, c := range palette {
		labs[i] = ToLab(c)
	}
	labs[n] = ToLab(frame.RGB{})

	t := &distanceTable{n: n, dist: make([]float64, (n+1)*n)}
	for i := 0; i <= n; i++ {
		for j := 0; j < n; j++ {
			if i < n && j < i {
				t.dist[i*n+j] = t.dist[j*n+i]
				continue
			}
			t.dist[i*n+j] = DeltaE76(labs[i], labs[j])
		}
	}
	return t
}
