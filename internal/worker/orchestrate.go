package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/redpen-ai/redpen/internal/fixsafety"
	"github.com/redpen-ai/redpen/internal/logging"
	"github.com/redpen-ai/redpen/internal/metrics"
	"github.com/redpen-ai/redpen/internal/review"
	"github.com/redpen-ai/redpen/internal/scm"
)

// Ports resolves the provider client for a request.
type Ports interface {
	PortFor(provider review.Provider) (scm.Port, error)
}

// StateTracker mirrors the lifecycle transitions into the state store.
// Tracking failures never fail a review; the result store stays the source
// of truth for subscribers.
type StateTracker interface {
	MarkProcessing(ctx context.Context, req review.AsyncReviewRequest) error
	MarkCompleted(ctx context.Context, req review.AsyncReviewRequest, result *review.ReviewResult) error
	MarkFailed(ctx context.Context, req review.AsyncReviewRequest, cause error) error
}

// ResultSink receives terminal results.
type ResultSink interface {
	PublishCompleted(ctx context.Context, req review.AsyncReviewRequest, result *review.ReviewResult, elapsed time.Duration) error
	PublishFailed(ctx context.Context, req review.AsyncReviewRequest, cause error, elapsed time.Duration) error
}

// retryable reports whether an orchestration error should leave the stream
// record pending for redelivery instead of terminating the review. Broker
// outages, provider rate limits, and deadline hits are worth another pass;
// everything else is a terminal failure for this request.
func retryable(ctx context.Context, err error) bool {
	var rl *review.RateLimitError
	switch {
	case errors.As(err, &rl):
		return true
	case errors.Is(err, review.ErrBrokerUnavailable):
		return true
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		return true
	}
	return false
}

// finishFailed publishes the FAILED result and mirrors it to the state
// store. Returns nil so the consumer acks: the failure is recorded, not
// pending.
func finishFailed(ctx context.Context, sink ResultSink, states StateTracker, m *metrics.Metrics,
	req review.AsyncReviewRequest, cause error, start time.Time) error {

	log := logging.FromContext(ctx)
	elapsed := time.Since(start)

	if err := sink.PublishFailed(ctx, req, cause, elapsed); err != nil {
		// Without a stored FAILED result subscribers would hang; leave the
		// record pending so the publish is retried on redelivery.
		log.Error("failed-result publish failed", "cause", cause, "error", err)
		return err
	}
	if states != nil {
		if err := states.MarkFailed(ctx, req, cause); err != nil {
			log.Warn("state mark failed errored", "error", err)
		}
	}
	m.RecordReview(string(req.ReviewMode), "failed", elapsed.Seconds())
	log.Error("review failed", "elapsed", elapsed, "cause", cause)
	return nil
}

// gateSuggestedFixes runs every issue's suggested fix through the safety
// validator and strips fixes that do not come back approved. Issues
// themselves always survive; only the applicable patch is withheld.
func gateSuggestedFixes(ctx context.Context, result *review.ReviewResult) {
	log := logging.FromContext(ctx)
	var validator fixsafety.Validator

	for i := range result.Issues {
		issue := &result.Issues[i]
		if issue.SuggestedFix == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(issue.SuggestedFix)
		if err != nil {
			log.Warn("suggested fix is not valid base64, withholding",
				"file", issue.File, "error", err)
			issue.SuggestedFix = ""
			continue
		}
		decision := validator.Validate(string(decoded), issue.Confidence())
		if decision.Status != fixsafety.StatusApproved {
			log.Info("suggested fix withheld",
				"file", issue.File,
				"status", decision.Status,
				"reason", decision.Reason,
				"risk_score", decision.RiskScore)
			issue.SuggestedFix = ""
		}
	}
}
