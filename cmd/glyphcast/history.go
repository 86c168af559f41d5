package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/glyphcast/glyphcast/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var path string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently watched sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.History.Path
			}
			if path == "" {
				return errors.New("history is disabled: set history.path in the config or pass --path")
			}
			store, err := history.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No sessions recorded.")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Started", "URL", "Duration", "Frames", "Encoded", "FPS", "Peak viewers", "Ended"},
				historyRows(entries),
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of sessions to show")
	cmd.Flags().StringVar(&path, "path", "", "History database (default from config)")
	return cmd
}

func historyRows(entries []history.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		duration, ended := "-", "running"
		if e.EndedAt != nil {
			duration = e.Duration().Round(time.Second).String()
			ended = e.EndReason
			if ended == "" {
				ended = "ended"
			}
		}
		rows = append(rows, []string{
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			e.URL,
			duration,
			strconv.FormatInt(e.FramesRead, 10),
			strconv.FormatInt(e.FramesEncoded, 10),
			strconv.FormatFloat(e.Framerate, 'f', 1, 64),
			strconv.Itoa(e.PeakViewers),
			ended,
		})
	}
	return rows
}
