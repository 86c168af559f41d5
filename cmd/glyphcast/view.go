package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/glyphcast/glyphcast/internal/viewer/app"
	"github.com/glyphcast/glyphcast/internal/viewer/client"
)

func newViewCommand(ctx *commandContext) *cobra.Command {
	var server, watch string
	cmd := &cobra.Command{
		Use:   "view [url]",
		Short: "Watch a glyphcast server in the terminal",
		Long: `Connect to a running server and render its frames in the terminal.
An optional url argument is requested as soon as the connection is up.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if server == "" {
				host := cfg.Server.Host
				if host == "" || host == "0.0.0.0" || host == "::" {
					host = "127.0.0.1"
				}
				server = "ws://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)) + "/ws"
			}
			if len(args) == 1 {
				watch = args[0]
			}

			wsc := client.NewWSClient(server)
			httpc := client.NewHTTPClient(client.HTTPBase(server))
			p := tea.NewProgram(app.New(wsc, httpc, app.Options{Watch: strings.TrimSpace(watch)}), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("viewer: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "", "WebSocket URL of the server (default from config)")
	cmd.Flags().StringVarP(&watch, "watch", "w", "", "URL to request once connected")
	return cmd
}
