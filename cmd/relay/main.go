package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"relay/internal/core/app"
	"relay/internal/core/config"
	"relay/internal/core/watcher"
	"relay/internal/data/history"
	"relay/internal/engine/project"
	"relay/internal/shared/observability"
)

var (
	configPath = flag.String("config", "./relay.toml", "Path to config file")
	once       = flag.Bool("once", false, "Build the project graph once and exit")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	version    = flag.Bool("version", false, "Print version and exit")
)

const VERSION = "1.0.0"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("relay v%s\n", VERSION)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if *configPath == "./relay.toml" && os.IsNotExist(err) {
			cfg = config.DefaultConfig()
		} else {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}
	if flag.NArg() > 0 {
		cfg.RootFiles = append(cfg.RootFiles, flag.Args()...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.OTLPEndpoint != "" {
		shutdown, err := observability.SetupTracing(ctx, cfg.Observability.OTLPEndpoint)
		if err != nil {
			slog.Warn("tracing setup failed", "error", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	w, err := watcher.NewWatcher(cfg.Watch.Debounce, cfg.Exclude.Dirs, cfg.Exclude.Files)
	if err != nil {
		slog.Error("failed to start file watcher", "error", err)
		os.Exit(1)
	}
	defer w.Close()

	var store *history.Store
	if cfg.DB.Enabled {
		store, err = history.Open(cfg.DB.Path)
		if err != nil {
			slog.Error("failed to open history store", "error", err)
			os.Exit(1)
		}
	}

	service, err := app.NewService(app.Options{
		Config:  cfg,
		System:  watcher.NewSystem(w),
		Logger:  logger,
		History: store,
	})
	if err != nil {
		slog.Error("failed to initialize service", "error", err)
		os.Exit(1)
	}
	defer service.Close(context.Background())

	service.SetUpdateHandler(func(changes project.ChangeSet) {
		slog.Info("project changed",
			"version", changes.Version,
			"delta", changes.IsDelta,
			"added", len(changes.Added),
			"removed", len(changes.Removed),
			"updated", len(changes.Updated),
		)
	})

	if err := service.UpdateOnce(ctx); err != nil {
		slog.Error("initial build failed", "error", err)
		os.Exit(1)
	}
	if *once {
		return
	}

	obsServer := app.NewObservabilityServer(cfg.Observability.Address, app.NewHealthService(service))
	if err := obsServer.Start(ctx); err != nil {
		slog.Error("failed to start observability server", "error", err)
		os.Exit(1)
	}
	defer obsServer.Stop(context.Background())

	slog.Info("watching for changes", "root", cfg.ProjectRoot)
	if err := service.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("service stopped", "error", err)
		os.Exit(1)
	}
}
