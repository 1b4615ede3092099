package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/redpen-ai/redpen/internal/circuitbreaker"
	"github.com/redpen-ai/redpen/internal/review"
)

// GuardedStreamer wraps a Streamer with a circuit breaker. When the model
// API is down the breaker fails fast and the record stays pending for
// redelivery instead of burning the request deadline on a dead endpoint.
type GuardedStreamer struct {
	inner   Streamer
	breaker *circuitbreaker.Breaker
}

func Guard(inner Streamer) *GuardedStreamer {
	return &GuardedStreamer{
		inner:   inner,
		breaker: circuitbreaker.New(circuitbreaker.ForLLM()),
	}
}

func (g *GuardedStreamer) Stream(ctx context.Context, req Request) (Response, error) {
	var resp Response
	err := g.breaker.Do(func() error {
		var streamErr error
		resp, streamErr = g.inner.Stream(ctx, req)
		return streamErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		// Present the fast-fail as a retryable backoff hint.
		return Response{}, fmt.Errorf("model endpoint circuit open: %w",
			&review.RateLimitError{RetryAfterSeconds: 30})
	}
	return resp, err
}
