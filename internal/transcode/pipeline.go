// Package transcode turns decoded video frames into encoded glyph grids:
// letterbox to the output resolution, quantize, then pick a glyph per cell.
package transcode

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/glyphcast/glyphcast/internal/frame"
	"github.com/glyphcast/glyphcast/internal/glyph"
	"github.com/glyphcast/glyphcast/internal/quantize"
)

// Options sizes the output grid.
type Options struct {
	SymbolWidth  int // pixels per cell, horizontally
	SymbolHeight int
	GridWidth    int // cells
	GridHeight   int
	PaletteSize  int
	Border       frame.RGB
}

// Output is one transcoded frame with its encoding stats.
type Output struct {
	Frame   *frame.Frame
	Error   float64
	Uniform int
	Elapsed time.Duration
}

// Pipeline holds the immutable per-configuration state. It keeps no per-frame
// buffers, so one Pipeline may be shared by concurrent callers.
type Pipeline struct {
	opts    Options
	encoder *glyph.Encoder
}

// New validates opts and builds a pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.GridWidth < 1 || opts.GridHeight < 1 {
		return nil, fmt.Errorf("transcode: grid %dx%d must be positive", opts.GridWidth, opts.GridHeight)
	}
	if err := frame.CheckGridSize(opts.GridWidth, opts.GridHeight); err != nil {
		return nil, fmt.Errorf("transcode: %w", err)
	}
	if opts.PaletteSize < 1 {
		return nil, fmt.Errorf("transcode: palette size %d must be positive", opts.PaletteSize)
	}
	if err := frame.CheckPaletteSize(opts.PaletteSize); err != nil {
		return nil, fmt.Errorf("transcode: %w", err)
	}
	w, h := opts.GridWidth*opts.SymbolWidth, opts.GridHeight*opts.SymbolHeight
	if w > 1<<14 || h > 1<<14 {
		return nil, errors.New("transcode: output resolution too large")
	}

	enc, err := glyph.NewEncoder(opts.SymbolWidth, opts.SymbolHeight)
	if err != nil {
		return nil, fmt.Errorf("transcode: %w", err)
	}
	return &Pipeline{opts: opts, encoder: enc}, nil
}

// Options returns the pipeline's configuration.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Resolution returns the pixel size frames are letterboxed to.
func (p *Pipeline) Resolution() (int, int) {
	return p.opts.GridWidth * p.opts.SymbolWidth, p.opts.GridHeight * p.opts.SymbolHeight
}

// Transcode letterboxes img, quantizes it and encodes the glyph grid.
func (p *Pipeline) Transcode(img image.Image) (*Output, error) {
	start := time.Now()

	w, h := p.Resolution()
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	Letterbox(canvas, img, p.opts.Border.RGBA())

	palette, index := quantize.Quantize(canvas, uint16(min(p.opts.PaletteSize, quantize.MaxColors)))

	res, err := p.encoder.Encode(index, w, h, palette)
	if err != nil {
		return nil, fmt.Errorf("transcode: %w", err)
	}
	return &Output{
		Frame:   res.Frame,
		Error:   res.Error,
		Uniform: res.Uniform,
		Elapsed: time.Since(start),
	}, nil
}
