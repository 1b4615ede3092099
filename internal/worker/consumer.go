// Package worker runs the stream consumer loop: long-poll reads from the
// assigned review stream, one cooperative task per record, explicit ack on
// success, redelivery-by-silence on failure.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/redpen-ai/redpen/internal/broker"
	"github.com/redpen-ai/redpen/internal/logging"
	"github.com/redpen-ai/redpen/internal/metrics"
	"github.com/redpen-ai/redpen/internal/review"
)

// Orchestrator is the per-request review pipeline a worker dispatches into.
// The diff and agentic workers plug different implementations in here.
type Orchestrator interface {
	Process(ctx context.Context, req review.AsyncReviewRequest) error
}

// Config fixes a worker's stream identity and scheduling knobs.
type Config struct {
	StreamKey  string
	Group      string
	ConsumerID string
	BatchSize  int64
	BlockFor   time.Duration
	// Deadline is the hard end-to-end budget for one request; every
	// downstream call inherits a derived deadline.
	Deadline time.Duration
	// DrainTimeout bounds how long shutdown waits for in-flight tasks
	// before force-cancelling them.
	DrainTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConsumerID == "" {
		c.ConsumerID = fmt.Sprintf("worker-%d", os.Getpid())
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BlockFor <= 0 {
		c.BlockFor = 5 * time.Second
	}
	if c.Deadline <= 0 {
		c.Deadline = 5 * time.Minute
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
}

// Consumer owns one {group, consumerID} identity on one stream.
type Consumer struct {
	cfg          Config
	stream       broker.Stream
	orchestrator Orchestrator
	metrics      *metrics.Metrics

	wg sync.WaitGroup
}

func NewConsumer(cfg Config, stream broker.Stream, orch Orchestrator, m *metrics.Metrics) *Consumer {
	cfg.applyDefaults()
	return &Consumer{cfg: cfg, stream: stream, orchestrator: orch, metrics: m}
}

// Run polls until ctx is cancelled, then drains. Tasks are unbounded in
// count and cooperatively scheduled, so one stalled LLM call never blocks
// polling for other records.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.stream.EnsureGroup(ctx, c.cfg.StreamKey, c.cfg.Group, "0"); err != nil {
		return fmt.Errorf("ensure group: %w", err)
	}

	slog.Info("worker consuming",
		"stream", c.cfg.StreamKey,
		"group", c.cfg.Group,
		"consumer_id", c.cfg.ConsumerID)

	// Tasks get their own cancellation root so shutdown can stop polling
	// first and only force-cancel in-flight work after the drain window.
	taskCtx, cancelTasks := context.WithCancel(context.Background())
	defer cancelTasks()

	for {
		select {
		case <-ctx.Done():
			return c.drain(cancelTasks)
		default:
		}

		records, err := c.stream.ReadBatch(ctx, c.cfg.StreamKey, c.cfg.Group, c.cfg.ConsumerID, c.cfg.BatchSize, c.cfg.BlockFor)
		if err != nil {
			if ctx.Err() != nil {
				return c.drain(cancelTasks)
			}
			slog.Error("stream read failed, backing off", "stream", c.cfg.StreamKey, "error", err)
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return c.drain(cancelTasks)
			}
			continue
		}

		for _, record := range records {
			c.wg.Add(1)
			go func(rec broker.StreamRecord) {
				defer c.wg.Done()
				c.handle(taskCtx, rec)
			}(record)
		}
	}
}

// handle is one task: parse, orchestrate, ack.
func (c *Consumer) handle(ctx context.Context, rec broker.StreamRecord) {
	payload, ok := rec.Fields[review.FieldPayload]
	if !ok {
		slog.Warn("stream record missing payload field, dropping",
			"stream", c.cfg.StreamKey, "record_id", rec.RecordID)
		c.ack(rec.RecordID)
		c.metrics.RecordStreamRecord(c.cfg.StreamKey, "poisoned")
		return
	}

	req, err := review.DecodeRequest(payload)
	if err != nil {
		// Poison pill: a payload that can never parse would redeliver
		// forever, so it is logged loudly and dropped by acking.
		slog.Error("unparseable stream payload, dropping",
			"stream", c.cfg.StreamKey,
			"record_id", rec.RecordID,
			"error", err)
		c.ack(rec.RecordID)
		c.metrics.RecordStreamRecord(c.cfg.StreamKey, "poisoned")
		return
	}

	log := slog.Default().With(
		"request_id", req.RequestID,
		"repository", logging.Sanitize(req.RepositoryID),
		"change_request", req.ChangeRequestID,
		"mode", string(req.ReviewMode))

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()
	reqCtx = logging.WithLogger(reqCtx, log)

	start := time.Now()
	if err := c.orchestrator.Process(reqCtx, req); err != nil {
		// No ack: the pending-entries list redelivers after the claim
		// timeout, to this consumer or a peer.
		log.Error("review orchestration failed, leaving record pending",
			"record_id", rec.RecordID,
			"elapsed", time.Since(start),
			"error", err)
		c.metrics.RecordStreamRecord(c.cfg.StreamKey, "failed")
		return
	}

	c.ack(rec.RecordID)
	c.metrics.RecordStreamRecord(c.cfg.StreamKey, "acked")
	log.Info("review request processed", "record_id", rec.RecordID, "elapsed", time.Since(start))
}

func (c *Consumer) ack(recordID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.stream.Acknowledge(ctx, c.cfg.StreamKey, c.cfg.Group, recordID); err != nil {
		slog.Error("acknowledge failed", "stream", c.cfg.StreamKey, "record_id", recordID, "error", err)
	}
}

// drain waits up to DrainTimeout for in-flight tasks, then force-cancels.
func (c *Consumer) drain(cancelTasks context.CancelFunc) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("worker drained cleanly", "stream", c.cfg.StreamKey)
		return nil
	case <-time.After(c.cfg.DrainTimeout):
		slog.Warn("drain timeout, force-cancelling in-flight tasks", "stream", c.cfg.StreamKey)
		cancelTasks()
		<-done
		return nil
	}
}
