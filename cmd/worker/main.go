// The worker binary consumes one review stream. -mode selects the role:
// "diff" workers review the diff with retrieved context, "agentic" workers
// additionally execute the change's test suites in the container sandbox.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/redpen-ai/redpen/internal/broker"
	"github.com/redpen-ai/redpen/internal/config"
	"github.com/redpen-ai/redpen/internal/idempotency"
	"github.com/redpen-ai/redpen/internal/llm"
	"github.com/redpen-ai/redpen/internal/logging"
	"github.com/redpen-ai/redpen/internal/metrics"
	"github.com/redpen-ai/redpen/internal/publisher"
	"github.com/redpen-ai/redpen/internal/review"
	"github.com/redpen-ai/redpen/internal/sandbox"
	"github.com/redpen-ai/redpen/internal/scm"
	"github.com/redpen-ai/redpen/internal/state"
	"github.com/redpen-ai/redpen/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	mode := flag.String("mode", "diff", "worker role: diff or agentic")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	log := logging.Setup("worker-" + *mode)

	reviewMode, err := review.ParseReviewMode(*mode)
	if err != nil {
		log.Error("invalid -mode", "mode", *mode, "error", err)
		os.Exit(1)
	}

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
	var tracker worker.StateTracker
	if states != nil {
		tracker = states
	}

	m := metrics.New()
	resolver := scm.NewResolver(cfg.SCM)
	streamer := llm.Guard(llm.NewAnthropicStreamer(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.StreamTimeout, m))
	results := publisher.NewResultPublisher(rb, cfg.Retention.ResultTTL)

	var orch worker.Orchestrator
	switch reviewMode {
	case review.ModeAgentic:
		orch = &worker.AgenticOrchestrator{
			Ports:               resolver,
			Cloner:              &sandbox.Cloner{Root: cfg.Sandbox.WorkDirRoot, Token: cfg.Sandbox.CloneToken},
			Runner:              sandbox.NewDockerRunner(cfg.Sandbox),
			Streamer:            streamer,
			Results:             results,
			States:              tracker,
			Metrics:             m,
			ConfidenceThreshold: cfg.LLM.ConfidenceThreshold,
			MaxTokens:           int64(cfg.LLM.MaxTokens),
		}
	default:
		orch = &worker.DiffOrchestrator{
			Ports:               resolver,
			EnrichCfg:           cfg.Enrich,
			Streamer:            streamer,
			Results:             results,
			States:              tracker,
			Metrics:             m,
			ConfidenceThreshold: cfg.LLM.ConfidenceThreshold,
			MaxTokens:           int64(cfg.LLM.MaxTokens),
		}
	}

	// The idempotency store check keeps a broker outage visible before the
	// consumer starts looping on read errors.
	keeper := idempotency.NewKeeper(idempotency.NewRedisStore(rb.Client()))
	if _, err := keeper.Exists(ctx, "startup-check"); err != nil {
		log.Warn("broker check failed at startup", "error", err)
	}

	consumer := worker.NewConsumer(worker.Config{
		StreamKey:    review.StreamForMode(reviewMode),
		Group:        cfg.Worker.Group,
		ConsumerID:   cfg.Worker.ConsumerID,
		BatchSize:    int64(cfg.Worker.BatchSize),
		BlockFor:     cfg.Worker.BlockFor,
		Deadline:     cfg.Worker.Deadline,
		DrainTimeout: cfg.Worker.DrainTimeout,
	}, rb, orch, m)

	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}
