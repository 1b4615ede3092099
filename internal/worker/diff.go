package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redpen-ai/redpen/internal/config"
	"github.com/redpen-ai/redpen/internal/enrich"
	"github.com/redpen-ai/redpen/internal/llm"
	"github.com/redpen-ai/redpen/internal/logging"
	"github.com/redpen-ai/redpen/internal/metrics"
	"github.com/redpen-ai/redpen/internal/prompt"
	"github.com/redpen-ai/redpen/internal/review"
)

// DiffOrchestrator is the DIFF-mode pipeline: enrich the diff, build the
// prompt, stream the model, validate and filter, publish.
type DiffOrchestrator struct {
	Ports               Ports
	EnrichCfg           config.EnrichConfig
	Streamer            llm.Streamer
	Results             ResultSink
	States              StateTracker
	Metrics             *metrics.Metrics
	ConfidenceThreshold float64
	MaxTokens           int64
}

func (o *DiffOrchestrator) Process(ctx context.Context, req review.AsyncReviewRequest) error {
	log := logging.FromContext(ctx)
	start := time.Now()

	if o.States != nil {
		if err := o.States.MarkProcessing(ctx, req); err != nil {
			log.Warn("state mark processing failed", "error", err)
		}
	}

	port, err := o.Ports.PortFor(req.Provider)
	if err != nil {
		return finishFailed(ctx, o.Results, o.States, o.Metrics, req, err, start)
	}

	enriched, err := enrich.NewPipeline(port, o.EnrichCfg).Enrich(ctx, req.Repository(), req.ChangeRequestID)
	if err != nil {
		if retryable(ctx, err) {
			return fmt.Errorf("enrich: %w", err)
		}
		return finishFailed(ctx, o.Results, o.States, o.Metrics, req, err, start)
	}

	resp, err := o.Streamer.Stream(ctx, llm.Request{
		System:    prompt.SystemPrompt,
		User:      prompt.Builder{}.Build(req, enriched),
		MaxTokens: o.MaxTokens,
	})
	if err != nil {
		if retryable(ctx, err) {
			return fmt.Errorf("model stream: %w", err)
		}
		return finishFailed(ctx, o.Results, o.States, o.Metrics, req, err, start)
	}

	result, err := llm.ParseResult(resp.Text)
	if err != nil {
		o.Metrics.RecordLLMFailure("schema_violation")
		return finishFailed(ctx, o.Results, o.States, o.Metrics, req, err, start)
	}
	result.LLMProvider = resp.Provider
	result.LLMModel = resp.Model

	result = llm.FilterIssues(log, result, o.ConfidenceThreshold)
	gateSuggestedFixes(ctx, result)

	if err := o.Results.PublishCompleted(ctx, req, result, time.Since(start)); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	if o.States != nil {
		if err := o.States.MarkCompleted(ctx, req, result); err != nil {
			log.Warn("state mark completed failed", "error", err)
		}
	}

	o.Metrics.RecordReview(string(req.ReviewMode), "completed", time.Since(start).Seconds())
	log.Info("diff review completed",
		"issues", len(result.Issues),
		"notes", len(result.NonBlockingNotes),
		"elapsed", time.Since(start))
	return nil
}
