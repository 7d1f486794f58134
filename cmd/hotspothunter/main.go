package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/starCarlos/HotSpot-Hunter/internal/app"
	"github.com/starCarlos/HotSpot-Hunter/internal/config"
	"github.com/starCarlos/HotSpot-Hunter/internal/logging"
)

func main() {
	once := flag.Bool("once", false, "run a single ingestion cycle and exit")
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		if err := application.RunOnce(ctx); err != nil {
			logger.Error("cycle failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if !cfg.Scheduler.Enabled {
		logger.Info("scheduler disabled, running one cycle")
		if err := application.RunOnce(ctx); err != nil {
			logger.Error("cycle failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("application stopped", "error", err)
		os.Exit(1)
	}
}
