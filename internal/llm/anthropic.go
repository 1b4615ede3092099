package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/redpen-ai/redpen/internal/logging"
	"github.com/redpen-ai/redpen/internal/metrics"
	"github.com/redpen-ai/redpen/internal/review"
)

// AnthropicStreamer streams completions from the Anthropic Messages API.
// StreamTimeout is an absolute wall limit on the whole stream, not a
// per-chunk idle timeout.
type AnthropicStreamer struct {
	client        anthropic.Client
	model         string
	streamTimeout time.Duration
	metrics       *metrics.Metrics
}

func NewAnthropicStreamer(apiKey, model string, streamTimeout time.Duration, m *metrics.Metrics) *AnthropicStreamer {
	return &AnthropicStreamer{
		client:        anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:         model,
		streamTimeout: streamTimeout,
		metrics:       m,
	}
}

func (a *AnthropicStreamer) Stream(ctx context.Context, req Request) (Response, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	streamCtx, cancel := context.WithTimeout(ctx, a.streamTimeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	stream := a.client.Messages.NewStreaming(streamCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: req.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})

	var sb strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				sb.WriteString(delta.Text)
			}
		}
	}

	if err := stream.Err(); err != nil {
		if streamCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			a.metrics.RecordLLMFailure("stream_timeout")
			return Response{}, fmt.Errorf("model stream exceeded %s: %w", a.streamTimeout, err)
		}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
			a.metrics.RecordLLMFailure("rate_limited")
			return Response{}, &review.RateLimitError{RetryAfterSeconds: retryAfter(apiErr)}
		}
		a.metrics.RecordLLMFailure("stream_error")
		return Response{}, fmt.Errorf("model stream: %w", err)
	}

	a.metrics.RecordLLMStream(a.model, time.Since(start).Seconds())
	log.Debug("model stream complete", "model", a.model, "chars", sb.Len(), "elapsed", time.Since(start))

	return Response{Text: sb.String(), Model: a.model, Provider: "anthropic"}, nil
}

func retryAfter(apiErr *anthropic.Error) int {
	if apiErr.Response == nil {
		return 60
	}
	if v := apiErr.Response.Header.Get("Retry-After"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return 60
}
