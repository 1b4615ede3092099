// The gateway binary serves the webhook ingestion edge, the SSE event
// surface, and the comment publisher that mirrors completed reviews back to
// the provider.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/redpen-ai/redpen/internal/broker"
	"github.com/redpen-ai/redpen/internal/config"
	"github.com/redpen-ai/redpen/internal/gateway"
	"github.com/redpen-ai/redpen/internal/idempotency"
	"github.com/redpen-ai/redpen/internal/logging"
	"github.com/redpen-ai/redpen/internal/metrics"
	"github.com/redpen-ai/redpen/internal/publisher"
	"github.com/redpen-ai/redpen/internal/scm"
	"github.com/redpen-ai/redpen/internal/state"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	log := logging.Setup("gateway")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("configuration load failed", "error", err)
		os.Exit(1)
	}

	rb, err := broker.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Error("redis connect failed", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer rb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var states *state.Store
	if cfg.Database.DSN != "" {
		states, err = state.Open(ctx, cfg.Database.DSN)
		if err != nil {
			log.Error("state store open failed", "error", err)
			os.Exit(1)
		}
		defer states.Close()
	} else {
		log.Warn("no database configured, review state tracking disabled")
	}

	m := metrics.New()
	keeper := idempotency.NewKeeper(idempotency.NewRedisStore(rb.Client()))
	resolver := scm.NewResolver(cfg.SCM)

	var stateWriter gateway.StateWriter
	var stateRecorder publisher.StateRecorder
	if states != nil {
		stateWriter = states
		stateRecorder = states
	}

	server := gateway.NewServer(cfg.Gateway, rb, rb, keeper, stateWriter, m)

	comments := publisher.NewCommentPublisher(rb, resolver, stateRecorder, m, log)
	go func() {
		if err := comments.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("comment publisher stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		log.Info("shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("gateway shutdown failed", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		log.Error("gateway server failed", "error", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}
