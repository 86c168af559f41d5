package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/glyphcast/glyphcast/internal/source"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <url>",
		Short: "Show what ffprobe reports for a media URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			url := args[0]
			resolved, err := source.Resolver{Command: cfg.Source.Resolver, Format: cfg.Source.ResolverFormat}.Resolve(cmd.Context(), url)
			if err != nil {
				return err
			}
			res, err := source.Probe(cmd.Context(), cfg.Source.FFprobe, resolved)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			summary := [][2]string{{"URL", url}}
			if resolved != url {
				summary = append(summary, [2]string{"Resolved", resolved})
			}
			summary = append(summary,
				[2]string{"Format", res.Format.FormatName},
				[2]string{"Duration", formatSeconds(res.DurationSeconds())},
				[2]string{"Streams", strconv.Itoa(len(res.Streams))},
			)
			if v, ok := res.Video(); ok {
				summary = append(summary, [2]string{"Video", fmt.Sprintf("%s %dx%d @ %.3g fps", v.CodecName, v.Width, v.Height, v.Framerate())})
			}
			fmt.Fprintln(out, renderKeyValues(summary))
			fmt.Fprintln(out, renderTable([]string{"#", "Type", "Codec", "Size", "Pixel format", "Rate"}, streamRows(res.Streams),
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignRight}))
			return nil
		},
	}
}

func streamRows(streams []source.Stream) [][]string {
	rows := make([][]string, 0, len(streams))
	for _, s := range streams {
		size, rate := "", ""
		if s.CodecType == "video" {
			size = fmt.Sprintf("%dx%d", s.Width, s.Height)
			if fps := s.Framerate(); fps > 0 {
				rate = fmt.Sprintf("%.3g fps", fps)
			}
		}
		rows = append(rows, []string{strconv.Itoa(s.Index), s.CodecType, s.CodecName, size, s.PixFmt, rate})
	}
	return rows
}

func formatSeconds(sec float64) string {
	if sec <= 0 {
		return "live"
	}
	return strconv.FormatFloat(sec, 'f', 1, 64) + "s"
}
