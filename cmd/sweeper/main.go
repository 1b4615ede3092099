// The sweeper binary deletes terminal review state rows past the retention
// window. Run it as a singleton alongside the gateway.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/redpen-ai/redpen/internal/config"
	"github.com/redpen-ai/redpen/internal/logging"
	"github.com/redpen-ai/redpen/internal/state"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	log := logging.Setup("sweeper")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("configuration load failed", "error", err)
		os.Exit(1)
	}
	if cfg.Database.DSN == "" {
		log.Error("sweeper requires a configured database")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := state.Open(ctx, cfg.Database.DSN)
	if err != nil {
		log.Error("state store open failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	sweeper := &state.Sweeper{
		Store:       store,
		Window:      cfg.Retention.Window,
		Interval:    cfg.Retention.Sweep,
		StuckWindow: cfg.Retention.StuckWindow,
		Log:         log,
	}

	log.Info("retention sweeper running",
		"window", cfg.Retention.Window, "interval", cfg.Retention.Sweep)
	if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("sweeper stopped", "error", err)
		os.Exit(1)
	}
	log.Info("sweeper stopped")
}
