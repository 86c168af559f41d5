package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/glyphcast/glyphcast/internal/frame"
	"github.com/glyphcast/glyphcast/internal/glyph"
	"github.com/glyphcast/glyphcast/internal/viewer/render"
)

func newInspectCommand(_ *commandContext) *cobra.Command {
	var show, color bool
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Decode a captured frame and summarise it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			f, err := frame.Decode(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderKeyValues(frameSummary(f, len(data))))
			fmt.Fprintln(out, renderTable([]string{"Glyph", "Name", "Cells", "Share"}, glyphRows(f), []columnAlignment{alignLeft, alignLeft, alignRight, alignRight}))
			fmt.Fprintln(out, renderTable([]string{"Index", "Color", "Fg cells", "Bg cells"}, paletteRows(f), []columnAlignment{alignRight, alignLeft, alignRight, alignRight}))
			if show {
				if color {
					fmt.Fprintln(out, render.Grid(f, 0, 0))
				} else {
					fmt.Fprintln(out, render.Plain(f, 0, 0))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "Print the decoded grid")
	cmd.Flags().BoolVar(&color, "color", false, "Print the grid with terminal colors (implies --show)")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if color {
			show = true
		}
	}
	return cmd
}

func frameSummary(f *frame.Frame, size int) [][2]string {
	return [][2]string{
		{"Grid", fmt.Sprintf("%d x %d", f.Width, f.Height)},
		{"Cells", strconv.Itoa(f.CellCount())},
		{"Palette", fmt.Sprintf("%d colors", len(f.Palette))},
		{"Encoded size", fmt.Sprintf("%d bytes", size)},
	}
}

func glyphRows(f *frame.Frame) [][]string {
	counts := make(map[byte]int)
	for _, g := range f.Glyphs {
		counts[g]++
	}
	keys := make([]byte, 0, len(counts))
	for g := range counts {
		keys = append(keys, g)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	rows := make([][]string, 0, len(keys))
	for _, g := range keys {
		name := "unknown"
		if int(g) < len(glyph.Set) {
			name = glyph.Set[g].Name
		}
		rows = append(rows, []string{
			strconv.QuoteRune(glyph.Rune(g)),
			name,
			strconv.Itoa(counts[g]),
			percent(counts[g], len(f.Glyphs)),
		})
	}
	return rows
}

func paletteRows(f *frame.Frame) [][]string {
	fg := make([]int, len(f.Palette))
	bg := make([]int, len(f.Palette))
	for i := range f.Glyphs {
		if int(f.Foreground[i]) < len(fg) {
			fg[f.Foreground[i]]++
		}
		if int(f.Background[i]) < len(bg) {
			bg[f.Background[i]]++
		}
	}
	rows := make([][]string, 0, len(f.Palette))
	for i, c := range f.Palette {
		rows = append(rows, []string{strconv.Itoa(i), c.Hex(), strconv.Itoa(fg[i]), strconv.Itoa(bg[i])})
	}
	return rows
}

func percent(n, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(n)/float64(total))
}
