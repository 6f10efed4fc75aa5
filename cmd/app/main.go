package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"orderbook_go/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", app.DefaultConfigPath, "path to the YAML configuration")
	pprofAddr := flag.String("pprof", "localhost:6060", "pprof listen address, empty disables it")
	flag.Parse()

	// 1. Pprof Server (for performance profiling)
	if *pprofAddr != "" {
		go func() {
			slog.Info("Pprof server started", slog.String("addr", *pprofAddr))
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.InfoContext(ctx, "Order book running. Press Ctrl+C to exit.",
		slog.String("api", bootstrap.Config.API.Addr),
		slog.String("feed", bootstrap.Config.Feed.Mode),
	)

	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("Order book stopped with error", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("Shut down gracefully")
}
