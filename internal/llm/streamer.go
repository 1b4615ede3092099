// Package llm holds the model-facing port, the Anthropic adapter, and the
// response parsing/validation pipeline that turns raw model output into a
// ReviewResult.
package llm

import "context"

// Request is one review prompt pair sent to the model.
type Request struct {
	System    string
	User      string
	MaxTokens int64
}

// Response is the accumulated text of one streamed completion.
type Response struct {
	Text     string
	Model    string
	Provider string
}

// Streamer is the port onto a streaming LLM backend. Implementations must
// honor ctx cancellation mid-stream and surface rate limiting as
// review.RateLimitError.
type Streamer interface {
	Stream(ctx context.Context, req Request) (Response, error)
}
