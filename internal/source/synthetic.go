package source

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
)

// SyntheticScheme is the URL scheme of generated test patterns:
//
//	synthetic://bars?size=320x240&fps=30&frames=300
//
// Patterns: bars, gradient, checker, noise. frames=0 (the default) runs
// forever.
const SyntheticScheme = "synthetic"

// Synthetic opens generated test-pattern sources. Its fields are the defaults
// for URLs that leave them out.
type Synthetic struct {
	Width     int
	Height    int
	Framerate float64
	Frames    int
}

type pattern func(img *image.RGBA, tick int, rng *rand.Rand)

var patterns = map[string]pattern{
	"bars":     drawBars,
	"gradient": drawGradient,
	"checker":  drawChecker,
	"noise":    drawNoise,
}

// Patterns lists the supported pattern names.
func Patterns() []string {
	return []string{"bars", "checker", "gradient", "noise"}
}

// Open parses a synthetic:// URL.
func (s Synthetic) Open(_ context.Context, raw string) (Source, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("synthetic source: %w", err)
	}
	if u.Scheme != SyntheticScheme {
		return nil, fmt.Errorf("synthetic source: %w: scheme %q", ErrUnsupported, u.Scheme)
	}
	name := u.Host
	if name == "" {
		name = strings.Trim(u.Path, "/")
	}
	draw, ok := patterns[name]
	if !ok {
		return nil, fmt.Errorf("synthetic source: %w: unknown pattern %q", ErrUnsupported, name)
	}

	width, height := s.Width, s.Height
	if width <= 0 || height <= 0 {
		width, height = 320, 240
	}
	fps := s.Framerate
	if fps <= 0 {
		fps = 30
	}
	frames := s.Frames

	q := u.Query()
	if v := q.Get("size"); v != "" {
		w, h, found := strings.Cut(v, "x")
		wi, err1 := strconv.Atoi(w)
		hi, err2 := strconv.Atoi(h)
		if !found || err1 != nil || err2 != nil || wi <= 0 || hi <= 0 || wi*hi > maxPixels {
			return nil, fmt.Errorf("synthetic source: bad size %q", v)
		}
		width, height = wi, hi
	}
	if v := q.Get("fps"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || math.IsInf(f, 0) {
			return nil, fmt.Errorf("synthetic source: bad fps %q", v)
		}
		fps = f
	}
	if v := q.Get("frames"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("synthetic source: bad frames %q", v)
		}
		frames = n
	}

	return &syntheticSource{
		width:  width,
		height: height,
		fps:    fps,
		frames: frames,
		draw:   draw,
		rng:    rand.New(rand.NewSource(1)),
	}, nil
}

type syntheticSource struct {
	width, height int
	fps           float64
	frames        int
	tick          int
	draw          pattern
	rng           *rand.Rand
	closed        atomic.Bool
}

func (s *syntheticSource) Read() (*image.RGBA, error) {
	if s.closed.Load() || (s.frames > 0 && s.tick >= s.frames) {
		return nil, io.EOF
	}
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	s.draw(img, s.tick, s.rng)
	s.tick++
	return img, nil
}

func (s *syntheticSource) Framerate() float64 { return s.fps }

func (s *syntheticSource) Close() error {
	s.closed.Store(true)
	return nil
}

func set(img *image.RGBA, x, y int, r, g, b uint8) {
	i := img.PixOffset(x, y)
	img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r, g, b, 0xff
}

// Seven bars in the usual test-card order, scrolling left one pixel a tick.
var barColors = [][3]uint8{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
}

func drawBars(img *image.RGBA, tick int, _ *rand.Rand) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for x := 0; x < w; x++ {
		c := barColors[((x+tick)%w)*len(barColors)/w]
		for y := 0; y < h; y++ {
			set(img, x, y, c[0], c[1], c[2])
		}
	}
}

func drawGradient(img *image.RGBA, tick int, _ *rand.Rand) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			set(img, x, y,
				uint8((x*255/w+tick)%256),
				uint8(y*255/h),
				uint8((255-x*255/w+tick*2)%256),
			)
		}
	}
}

func drawChecker(img *image.RGBA, tick int, _ *rand.Rand) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	size := max(w, h)/8 + 1
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ((x+tick)/size+y/size)%2 == 0 {
				set(img, x, y, 240, 240, 240)
			} else {
				set(img, x, y, 16, 16, 16)
			}
		}
	}
}

func drawNoise(img *image.RGBA, _ int, rng *rand.Rand) {
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
}
