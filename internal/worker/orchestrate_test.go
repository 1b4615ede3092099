package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpen-ai/redpen/internal/review"
)

func TestRetryableClassification(t *testing.T) {
	ctx := context.Background()

	assert.True(t, retryable(ctx, &review.RateLimitError{RetryAfterSeconds: 30}))
	assert.True(t, retryable(ctx, fmt.Errorf("publish: %w", review.ErrBrokerUnavailable)))
	assert.True(t, retryable(ctx, context.DeadlineExceeded))

	assert.False(t, retryable(ctx, errors.New("pull request not found")))
	assert.False(t, retryable(ctx, review.ErrLLMSchemaViolation))
}

func TestRetryableHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, retryable(ctx, errors.New("anything")))
}

const approvedFix = `--- a/pkg/util.go
+++ b/pkg/util.go
@@ -1,1 +1,1 @@
-var x = 1
+var x = 2
`

func encodedFix(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func issueWithFix(fix string, confidence float64) review.Issue {
	c := confidence
	return review.Issue{
		File:            "pkg/util.go",
		StartLine:       1,
		Severity:        review.SeverityMinor,
		Title:           "example",
		SuggestedFix:    fix,
		ConfidenceScore: &c,
	}
}

func TestGateSuggestedFixesKeepsApproved(t *testing.T) {
	result := &review.ReviewResult{Issues: []review.Issue{issueWithFix(encodedFix(approvedFix), 0.95)}}
	gateSuggestedFixes(context.Background(), result)
	assert.NotEmpty(t, result.Issues[0].SuggestedFix)
}

func TestGateSuggestedFixesStripsLowConfidence(t *testing.T) {
	result := &review.ReviewResult{Issues: []review.Issue{issueWithFix(encodedFix(approvedFix), 0.6)}}
	gateSuggestedFixes(context.Background(), result)
	assert.Empty(t, result.Issues[0].SuggestedFix)
	require.Len(t, result.Issues, 1, "the issue itself survives")
}

func TestGateSuggestedFixesStripsBadBase64(t *testing.T) {
	result := &review.ReviewResult{Issues: []review.Issue{issueWithFix("%%%not-base64%%%", 0.99)}}
	gateSuggestedFixes(context.Background(), result)
	assert.Empty(t, result.Issues[0].SuggestedFix)
}

type sinkCall struct {
	status string
	cause  error
}

type fakeSink struct {
	calls      []sinkCall
	failErr    error
	publishErr error
}

func (f *fakeSink) PublishCompleted(_ context.Context, _ review.AsyncReviewRequest, _ *review.ReviewResult, _ time.Duration) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.calls = append(f.calls, sinkCall{status: "COMPLETED"})
	return nil
}

func (f *fakeSink) PublishFailed(_ context.Context, _ review.AsyncReviewRequest, cause error, _ time.Duration) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.calls = append(f.calls, sinkCall{status: "FAILED", cause: cause})
	return nil
}

func TestFinishFailedPublishesAndAcks(t *testing.T) {
	sink := &fakeSink{}
	req := review.AsyncReviewRequest{RequestID: "r-1", ReviewMode: review.ModeDiff}
	cause := errors.New("diff fetch 404")

	err := finishFailed(context.Background(), sink, nil, nil, req, cause, time.Now())
	require.NoError(t, err, "terminal failure returns nil so the record is acked")
	require.Len(t, sink.calls, 1)
	assert.Equal(t, "FAILED", sink.calls[0].status)
	assert.Equal(t, cause, sink.calls[0].cause)
}

func TestFinishFailedLeavesRecordPendingWhenPublishFails(t *testing.T) {
	sink := &fakeSink{failErr: review.ErrBrokerUnavailable}
	req := review.AsyncReviewRequest{RequestID: "r-2", ReviewMode: review.ModeDiff}

	err := finishFailed(context.Background(), sink, nil, nil, req, errors.New("boom"), time.Now())
	assert.Error(t, err, "unpublished failure must stay pending")
}
