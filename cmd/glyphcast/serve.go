package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/glyphcast/glyphcast/internal/config"
	"github.com/glyphcast/glyphcast/internal/frontend"
	"github.com/glyphcast/glyphcast/internal/history"
	"github.com/glyphcast/glyphcast/internal/procstats"
	"github.com/glyphcast/glyphcast/internal/session"
	"github.com/glyphcast/glyphcast/internal/source"
	"github.com/glyphcast/glyphcast/internal/transcode"
	"github.com/glyphcast/glyphcast/internal/ws"
)

type serveFlags struct {
	mock        bool
	host        string
	port        int
	frontendDir string
	historyPath string
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcoding server",
		Long: `Run the websocket server. Viewers connect to /ws, send a URL as a text
message and receive encoded frames as binary messages. With --mock only
synthetic:// test patterns are accepted and no ffmpeg is needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			applyServeFlags(cfg, flags, cmd)
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := setupLogger(ctx)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(runCtx, cfg, flags, logger)
		},
	}

	cmd.Flags().BoolVar(&flags.mock, "mock", false, "Serve synthetic:// test patterns only")
	cmd.Flags().StringVar(&flags.host, "host", "", "Override server host")
	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "Override server port")
	cmd.Flags().StringVar(&flags.frontendDir, "frontend-dir", "", "Serve the web viewer from this directory")
	cmd.Flags().StringVar(&flags.historyPath, "history", "", "Override the history database path")
	return cmd
}

func setupLogger(ctx *commandContext) (*slog.Logger, error) {
	logger, err := ctx.logger()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

func applyServeFlags(cfg *config.Config, flags serveFlags, cmd *cobra.Command) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = flags.host
	}
	if flags.port > 0 {
		cfg.Server.Port = flags.port
	}
	if cmd.Flags().Changed("history") {
		cfg.History.Path = flags.historyPath
	}
}

func newPipeline(cfg *config.Config) (*transcode.Pipeline, error) {
	border, err := cfg.BorderColor()
	if err != nil {
		return nil, err
	}
	return transcode.New(transcode.Options{
		SymbolWidth:  cfg.Stream.SymbolWidth,
		SymbolHeight: cfg.Stream.SymbolHeight,
		GridWidth:    cfg.Stream.GridWidth,
		GridHeight:   cfg.Stream.GridHeight,
		PaletteSize:  cfg.Stream.PaletteSize,
		Border:       border,
	})
}

func newOpener(cfg *config.Config, mock bool, logger *slog.Logger) source.Router {
	router := source.Router{Synthetic: source.Synthetic{}}
	if !mock {
		router.Media = &source.FFmpeg{
			FFmpeg:  cfg.Source.FFmpeg,
			FFprobe: cfg.Source.FFprobe,
			Resolver: source.Resolver{
				Command: cfg.Source.Resolver,
				Format:  cfg.Source.ResolverFormat,
			},
			Logger: logger.With("component", "source"),
		}
	}
	return router
}

func runServer(ctx context.Context, cfg *config.Config, flags serveFlags, logger *slog.Logger) error {
	pipeline, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	b := ws.NewBroadcaster(ws.Options{
		Cooldown:       cfg.Stream.Cooldown.Std(),
		IdleInterval:   cfg.Stream.IdleInterval.Std(),
		MaxConnections: cfg.Server.MaxConnections,
		Opener:         newOpener(cfg, flags.mock, logger),
		Pipeline:       pipeline,
		Session: session.Options{
			Decimation:        cfg.Stream.Decimation,
			FallbackFramerate: cfg.Stream.FallbackFramerate,
			Logger:            logger.With("component", "session"),
		},
		Logger: logger.With("component", "broadcaster"),
	})

	server := ws.NewServer(b, resolveFrontend(flags.frontendDir, logger), cfg.Server.AllowedOrigins, logger.With("component", "http"))

	var recorderDone chan struct{}
	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	if path := cfg.History.Path; path != "" {
		store, err := history.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		rec, events := history.NewRecorder(store, logger.With("component", "history"))
		b.SetEvents(events)
		server.SetHistory(store)
		recorderDone = make(chan struct{})
		go func() {
			defer close(recorderDone)
			rec.Run(recorderCtx)
		}()
		logger.Info("history enabled", "path", store.Path())
	}

	if stats, err := procstats.New(); err == nil {
		server.SetStats(stats)
	} else {
		logger.Warn("process stats unavailable", "error", err)
	}

	if flags.mock {
		logger.Info("mock mode: only synthetic sources accepted", "patterns", source.Patterns())
	}
	logger.Info("stream settings",
		"grid", fmt.Sprintf("%dx%d", cfg.Stream.GridWidth, cfg.Stream.GridHeight),
		"symbol", fmt.Sprintf("%dx%d", cfg.Stream.SymbolWidth, cfg.Stream.SymbolHeight),
		"palette", cfg.Stream.PaletteSize,
		"cooldown", cfg.Stream.Cooldown.Std(),
		"decimation", cfg.Stream.Decimation,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		b.Run(ctx)
	}()

	err = ws.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port, server.Handler(), logger.With("component", "http"))

	cancel()
	<-loopDone
	// Run emits the final session end before returning; flush it to the store.
	stopRecorder()
	if recorderDone != nil {
		<-recorderDone
	}
	logger.Info("server stopped")
	return err
}

func resolveFrontend(dir string, logger *slog.Logger) http.Handler {
	if dir != "" {
		if h := frontend.Dir(dir); h != nil {
			return h
		}
		logger.Warn("frontend directory has no index.html", "dir", dir)
	}
	candidates := []string{filepath.Join("internal", "frontend", "static")}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "static"))
	}
	h := frontend.Resolve(candidates...)
	if h == nil {
		logger.Info("no web viewer available; build with -tags embed to include it")
	}
	return h
}
