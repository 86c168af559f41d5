package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/glyphcast/glyphcast/internal/frame"
)

func newCaptureCommand(ctx *commandContext) *cobra.Command {
	var out string
	var skip int
	var mock bool
	cmd := &cobra.Command{
		Use:   "capture <url>",
		Short: "Transcode one frame of a source and write it in wire format",
		Long: `Open a source with the configured stream settings, skip --skip frames,
transcode the next one and write the encoded frame to --out. The file can be
read back with "glyphcast inspect".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			pipeline, err := newPipeline(cfg)
			if err != nil {
				return err
			}

			src, err := newOpener(cfg, mock, logger).Open(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer src.Close()

			for i := 0; i < skip; i++ {
				if _, err := src.Read(); err != nil {
					return fmt.Errorf("skip frame %d: %w", i, err)
				}
			}
			img, err := src.Read()
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("source ended after %d frames", skip)
			}
			if err != nil {
				return err
			}

			res, err := pipeline.Transcode(img)
			if err != nil {
				return err
			}
			data, err := frame.Encode(res.Frame)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues([][2]string{
				{"Source", args[0]},
				{"Input", fmt.Sprintf("%d x %d px", img.Bounds().Dx(), img.Bounds().Dy())},
				{"Grid", fmt.Sprintf("%d x %d", res.Frame.Width, res.Frame.Height)},
				{"Palette", fmt.Sprintf("%d colors", len(res.Frame.Palette))},
				{"Uniform cells", fmt.Sprintf("%d", res.Uniform)},
				{"Mean error", fmt.Sprintf("%.2f", meanError(res.Error, res.Frame.CellCount()))},
				{"Encode time", res.Elapsed.String()},
				{"Written", fmt.Sprintf("%s (%d bytes)", out, len(data))},
			}))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "frame.bin", "Output file")
	cmd.Flags().IntVar(&skip, "skip", 0, "Frames to skip before capturing")
	cmd.Flags().BoolVar(&mock, "mock", false, "Only allow synthetic:// sources")
	return cmd
}

func meanError(total float64, cells int) float64 {
	if cells == 0 {
		return 0
	}
	return total / float64(cells)
}
