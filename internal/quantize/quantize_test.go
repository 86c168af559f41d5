package quantize

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/glyphcast/glyphcast/internal/frame"
)

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8((x + y) * 127 / (w + h)),
				A: 0xff,
			})
		}
	}
	return img
}

func TestQuantize_ZeroArea(t *testing.T) {
	pal, idx := Quantize(image.NewRGBA(image.Rect(0, 0, 0, 10)), 16)
	if len(pal) != 0 {
		t.Errorf("palette len = %d, want 0", len(pal))
	}
	if len(idx) != 0 {
		t.Errorf("index len = %d, want 0", len(idx))
	}
}

func TestQuantize_Uniform(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	fill(img, img.Bounds(), color.RGBA{10, 20, 30, 255})

	pal, idx := Quantize(img, 16)
	if len(pal) != 1 {
		t.Fatalf("palette len = %d, want 1", len(pal))
	}
	if pal[0] != (frame.RGB{R: 10, G: 20, B: 30}) {
		t.Errorf("palette[0] = %v, want {10 20 30}", pal[0])
	}
	if len(idx) != 64 {
		t.Fatalf("index len = %d, want 64", len(idx))
	}
	for i, v := range idx {
		if v != 0 {
			t.Fatalf("idx[%d] = %d, want 0", i, v)
		}
	}
}

func TestQuantize_FewColorsExact(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	red := color.RGBA{255, 0, 0, 255}
	blue := color.RGBA{0, 0, 255, 255}
	fill(img, image.Rect(0, 0, 2, 4), red)
	fill(img, image.Rect(2, 0, 4, 4), blue)

	pal, idx := Quantize(img, 16)
	if len(pal) != 2 {
		t.Fatalf("palette len = %d, want 2", len(pal))
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			got := pal[idx[y*4+x]].RGBA()
			want := red
			if x >= 2 {
				want = blue
			}
			if got != want {
				t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestQuantize_RespectsLimit(t *testing.T) {
	img := gradient(64, 48)
	for _, limit := range []uint16{1, 2, 5, 16, 64} {
		pal, idx := Quantize(img, limit)
		if len(pal) > int(limit) {
			t.Errorf("limit %d: palette len = %d", limit, len(pal))
		}
		if len(idx) != 64*48 {
			t.Errorf("limit %d: index len = %d", limit, len(idx))
		}
		for i, v := range idx {
			if int(v) >= len(pal) {
				t.Fatalf("limit %d: idx[%d] = %d out of palette range %d", limit, i, v, len(pal))
			}
		}
	}
}

func TestQuantize_ClampsLimit(t *testing.T) {
	img := gradient(40, 40)
	pal, _ := Quantize(img, 0)
	if len(pal) != 1 {
		t.Errorf("limit 0: palette len = %d, want 1", len(pal))
	}
	pal, _ = Quantize(img, 1000)
	if len(pal) > MaxColors {
		t.Errorf("limit 1000: palette len = %d, want <= %d", len(pal), MaxColors)
	}
}

func TestQuantize_Deterministic(t *testing.T) {
	img := gradient(37, 23)
	pal1, idx1 := Quantize(img, 16)
	for i := 0; i < 5; i++ {
		pal2, idx2 := Quantize(img, 16)
		if len(pal1) != len(pal2) {
			t.Fatalf("run %d: palette len %d != %d", i, len(pal2), len(pal1))
		}
		for j := range pal1 {
			if pal1[j] != pal2[j] {
				t.Fatalf("run %d: palette[%d] %v != %v", i, j, pal2[j], pal1[j])
			}
		}
		if !bytes.Equal(idx1, idx2) {
			t.Fatalf("run %d: index images differ", i)
		}
	}
}

func TestQuantize_SubImageOrigin(t *testing.T) {
	img := gradient(20, 20)
	sub := img.SubImage(image.Rect(5, 5, 15, 15))
	pal, idx := Quantize(sub, 8)
	if len(pal) == 0 {
		t.Fatal("expected non-empty palette")
	}
	if len(idx) != 100 {
		t.Fatalf("index len = %d, want 100", len(idx))
	}
}

func TestMedianCut_SplitsWidestChannel(t *testing.T) {
	hist := []colorCount{
		{rgb: [3]uint8{0, 0, 0}, key: pack(0, 0, 0), count: 10},
		{rgb: [3]uint8{0, 200, 0}, key: pack(0, 200, 0), count: 10},
		{rgb: [3]uint8{10, 0, 0}, key: pack(10, 0, 0), count: 10},
	}
	pal := medianCut(hist, 2)
	if len(pal) != 2 {
		t.Fatalf("palette len = %d, want 2", len(pal))
	}
	// Green has the widest range, so the green entry ends up alone.
	found := false
	for _, c := range pal {
		if c == (frame.RGB{R: 0, G: 200, B: 0}) {
			found = true
		}
	}
	if !found {
		t.Errorf("palette %v does not isolate the green entry", pal)
	}
}
