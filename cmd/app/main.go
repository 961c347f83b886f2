package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"hft_go/internal/app"
	"hft_go/internal/infra"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap(*configPath)
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := bootstrap.Build(); err != nil {
		slog.Error("Wiring failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 2. Pprof + metrics server
	if cfg.Metrics.Enabled {
		http.Handle(cfg.Metrics.Path, infra.MetricsHandler(bootstrap.Metrics))
	}
	go func() {
		// Localhost only for security
		slog.Info("Pprof server started", slog.String("addr", cfg.App.PprofAddr))
		if err := http.ListenAndServe(cfg.App.PprofAddr, nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Engine operational. Press Ctrl+C to exit.", slog.String("endpoint", cfg.Exchange.Endpoint))
	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("Exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("Shut down cleanly")
}
