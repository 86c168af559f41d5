package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderSize is the fixed size of the little-endian frame header:
// palette byte length, cell count, grid width, grid height (u16 each).
const HeaderSize = 8

// MaxPaletteEntries is the largest palette whose byte length fits the
// header's 16-bit field.
const MaxPaletteEntries = math.MaxUint16 / 3

var (
	// ErrMalformedFrame is returned by Decode when the header disagrees with
	// the payload.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrPaletteOverflow is returned when a palette's byte length does not
	// fit the 16-bit header field.
	ErrPaletteOverflow = errors.New("palette overflow")
	// ErrGridOverflow is returned when grid dimensions or cell arrays cannot
	// be represented in the header.
	ErrGridOverflow = errors.New("grid overflow")
)

// EncodedSize returns 8 + P + 3C for the frame.
func EncodedSize(f *Frame) int {
	return HeaderSize + 3*len(f.Palette) + 3*f.CellCount()
}

// CheckPaletteSize reports ErrPaletteOverflow if n palette entries cannot be
// carried by the wire format.
func CheckPaletteSize(n int) error {
	if n > MaxPaletteEntries {
		return fmt.Errorf("%w: %d entries need %d bytes, header allows %d", ErrPaletteOverflow, n, 3*n, math.MaxUint16)
	}
	return nil
}

// CheckGridSize reports ErrGridOverflow if a width x height grid cannot be
// carried by the wire format: each dimension and the cell count are u16.
func CheckGridSize(width, height int) error {
	if width < 0 || height < 0 || width > math.MaxUint16 || height > math.MaxUint16 {
		return fmt.Errorf("%w: %dx%d grid", ErrGridOverflow, width, height)
	}
	if cells := width * height; cells > math.MaxUint16 {
		return fmt.Errorf("%w: %dx%d grid has %d cells, header allows %d", ErrGridOverflow, width, height, cells, math.MaxUint16)
	}
	return nil
}

// Encode serializes f into the binary wire format.
func Encode(f *Frame) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrGridOverflow)
	}
	if err := CheckPaletteSize(len(f.Palette)); err != nil {
		return nil, err
	}
	if err := CheckGridSize(f.Width, f.Height); err != nil {
		return nil, err
	}
	cells := f.CellCount()
	if len(f.Glyphs) != cells || len(f.Foreground) != cells || len(f.Background) != cells {
		return nil, fmt.Errorf("%w: cell arrays %d/%d/%d, grid needs %d",
			ErrGridOverflow, len(f.Glyphs), len(f.Foreground), len(f.Background), cells)
	}

	paletteBytes := 3 * len(f.Palette)
	out := make([]byte, HeaderSize+paletteBytes+3*cells)
	binary.LittleEndian.PutUint16(out[0:], uint16(paletteBytes))
	binary.LittleEndian.PutUint16(out[2:], uint16(cells))
	binary.LittleEndian.PutUint16(out[4:], uint16(f.Width))
	binary.LittleEndian.PutUint16(out[6:], uint16(f.Height))

	off := HeaderSize
	for _, c := range f.Palette {
		out[off], out[off+1], out[off+2] = c.R, c.G, c.B
		off += 3
	}
	off += copy(out[off:], f.Glyphs)
	off += copy(out[off:], f.Foreground)
	copy(out[off:], f.Background)
	return out, nil
}

// Decode parses a wire frame. The returned arrays do not alias data.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrMalformedFrame, len(data), HeaderSize)
	}
	paletteBytes := int(binary.LittleEndian.Uint16(data[0:]))
	cells := int(binary.LittleEndian.Uint16(data[2:]))
	width := int(binary.LittleEndian.Uint16(data[4:]))
	height := int(binary.LittleEndian.Uint16(data[6:]))

	if want := HeaderSize + paletteBytes + 3*cells; len(data) != want {
		return nil, fmt.Errorf("%w: header declares %d bytes, got %d", ErrMalformedFrame, want, len(data))
	}
	if paletteBytes%3 != 0 {
		return nil, fmt.Errorf("%w: palette length %d is not a multiple of 3", ErrMalformedFrame, paletteBytes)
	}
	if cells != width*height {
		return nil, fmt.Errorf("%w: cell count %d does not match %dx%d grid", ErrMalformedFrame, cells, width, height)
	}

	f := &Frame{
		Palette: make(Palette, paletteBytes/3),
		Width:   width,
		Height:  height,
	}
	off := HeaderSize
	for i := range f.Palette {
		f.Palette[i] = RGB{R: data[off], G: data[off+1], B: data[off+2]}
		off += 3
	}
	f.Glyphs = append([]byte(nil), data[off:off+cells]...)
	off += cells
	f.Foreground = append([]byte(nil), data[off:off+cells]...)
	off += cells
	f.Background = append([]byte(nil), data[off:off+cells]...)
	return f, nil
}
