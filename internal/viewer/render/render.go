// Package render draws decoded frames as colored text.
package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/glyphcast/glyphcast/internal/frame"
	"github.com/glyphcast/glyphcast/internal/glyph"
)

// Grid renders f with lipgloss foreground/background colors, cropped to at
// most maxCols x maxRows cells (0 means no limit). Adjacent cells sharing
// both colors are emitted as one styled run.
func Grid(f *frame.Frame, maxCols, maxRows int) string {
	if f == nil || f.Width == 0 || f.Height == 0 {
		return ""
	}
	cols, rows := clip(f, maxCols, maxRows)
	colors := hexes(f.Palette)

	var b strings.Builder
	var run strings.Builder
	for row := 0; row < rows; row++ {
		if row > 0 {
			b.WriteByte('\n')
		}
		runFG, runBG := -1, -1
		for col := 0; col < cols; col++ {
			g, fg, bg := f.Cell(row, col)
			if int(fg) != runFG || int(bg) != runBG {
				flush(&b, &run, colors, runFG, runBG)
				runFG, runBG = int(fg), int(bg)
			}
			run.WriteRune(glyph.Rune(g))
		}
		flush(&b, &run, colors, runFG, runBG)
	}
	return b.String()
}

// Plain renders f as glyph characters only.
func Plain(f *frame.Frame, maxCols, maxRows int) string {
	if f == nil || f.Width == 0 || f.Height == 0 {
		return ""
	}
	cols, rows := clip(f, maxCols, maxRows)
	var b strings.Builder
	for row := 0; row < rows; row++ {
		if row > 0 {
			b.WriteByte('\n')
		}
		for col := 0; col < cols; col++ {
			g, _, _ := f.Cell(row, col)
			b.WriteRune(glyph.Rune(g))
		}
	}
	return b.String()
}

func clip(f *frame.Frame, maxCols, maxRows int) (cols, rows int) {
	cols, rows = f.Width, f.Height
	if maxCols > 0 && cols > maxCols {
		cols = maxCols
	}
	if maxRows > 0 && rows > maxRows {
		rows = maxRows
	}
	return cols, rows
}

func hexes(p frame.Palette) []lipgloss.Color {
	out := make([]lipgloss.Color, len(p))
	for i, c := range p {
		out[i] = lipgloss.Color(c.Hex())
	}
	return out
}

func flush(b, run *strings.Builder, colors []lipgloss.Color, fg, bg int) {
	if run.Len() == 0 {
		return
	}
	style := lipgloss.NewStyle()
	if fg >= 0 && fg < len(colors) {
		style = style.Foreground(colors[fg])
	}
	if bg >= 0 && bg < len(colors) {
		style = style.Background(colors[bg])
	}
	b.WriteString(style.Render(run.String()))
	run.Reset()
}
