package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redpen-ai/redpen/internal/diff"
	"github.com/redpen-ai/redpen/internal/llm"
	"github.com/redpen-ai/redpen/internal/logging"
	"github.com/redpen-ai/redpen/internal/metrics"
	"github.com/redpen-ai/redpen/internal/prompt"
	"github.com/redpen-ai/redpen/internal/review"
	"github.com/redpen-ai/redpen/internal/sandbox"
	"github.com/redpen-ai/redpen/internal/security"
)

// SandboxRunner executes one framework's suite in isolation.
type SandboxRunner interface {
	Run(ctx context.Context, ws *sandbox.Workspace, fw sandbox.Framework) (*sandbox.RunOutcome, error)
}

// AgenticOrchestrator is the AGENTIC-mode pipeline: clone the change, run
// its test suites in the sandbox, scan added lines for dangerous patterns,
// then have the model synthesize everything into one review.
type AgenticOrchestrator struct {
	Ports               Ports
	Cloner              *sandbox.Cloner
	Runner              SandboxRunner
	Streamer            llm.Streamer
	Results             ResultSink
	States              StateTracker
	Metrics             *metrics.Metrics
	ConfidenceThreshold float64
	MaxTokens           int64
}

func (o *AgenticOrchestrator) Process(ctx context.Context, req review.AsyncReviewRequest) error {
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

	rawDiff, err := port.FetchDiff(ctx, req.Repository(), req.ChangeRequestID)
	if err != nil {
		if retryable(ctx, err) {
			return fmt.Errorf("fetch diff: %w", err)
		}
		return finishFailed(ctx, o.Results, o.States, o.Metrics, req, err, start)
	}
	doc, err := diff.Parse(rawDiff)
	if err != nil {
		return finishFailed(ctx, o.Results, o.States, o.Metrics, req, err, start)
	}

	findings := security.Analyzer{}.Analyze(doc)
	if len(findings) > 0 {
		log.Info("security patterns found in added lines", "count", len(findings))
	}

	summaries, err := o.runSuites(ctx, req)
	if err != nil {
		if retryable(ctx, err) {
			return fmt.Errorf("sandbox: %w", err)
		}
		return finishFailed(ctx, o.Results, o.States, o.Metrics, req, err, start)
	}

	resp, err := o.Streamer.Stream(ctx, llm.Request{
		System:    prompt.AgenticSystemPrompt,
		User:      prompt.BuildAgentic(req, rawDiff, summaries, findings),
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
	log.Info("agentic review completed",
		"issues", len(result.Issues),
		"suites", len(summaries),
		"security_findings", len(findings),
		"elapsed", time.Since(start))
	return nil
}

// runSuites clones the change request head and runs every detected
// framework. A single suite failing to even start is recorded, not fatal.
func (o *AgenticOrchestrator) runSuites(ctx context.Context, req review.AsyncReviewRequest) ([]review.TestSummary, error) {
	log := logging.FromContext(ctx)

	ws, err := o.Cloner.Clone(ctx, req.Repository(), req.ChangeRequestID)
	if err != nil {
		return nil, fmt.Errorf("clone workspace: %w", err)
	}
	defer func() {
		if err := ws.Remove(); err != nil {
			log.Warn("workspace cleanup failed", "dir", ws.Dir, "error", err)
		}
	}()

	frameworks := sandbox.Detect(ws.Dir)
	if len(frameworks) == 0 {
		log.Info("no test framework detected", "head", ws.HeadSHA)
		return nil, nil
	}

	var summaries []review.TestSummary
	for _, fw := range frameworks {
		outcome, err := o.Runner.Run(ctx, ws, fw)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			log.Warn("sandbox run failed to execute", "framework", fw.Name, "error", err)
			o.Metrics.RecordSandboxRun(fw.Name, "failed", 0)
			summaries = append(summaries, review.TestSummary{
				Framework: fw.Name,
				Failed:    1,
				ExitCode:  -1,
				Tests: []review.TestExecutionResult{{
					Name:   fw.Name + " suite",
					Passed: false,
					Detail: "sandbox execution error: " + err.Error(),
				}},
			})
			continue
		}

		summary := sandbox.ParseOutput(fw, outcome)
		label := "ok"
		if summary.TimedOut {
			label = "timeout"
		} else if summary.Failed > 0 {
			label = "failed"
		}
		o.Metrics.RecordSandboxRun(fw.Name, label, outcome.Duration.Seconds())
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
