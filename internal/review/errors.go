package review

import "errors"

// Typed failures for the pipeline. Every result-carrying operation returns
// either its value or one of these (wrapped); nothing panics across an I/O
// boundary.
var (
	// ErrBrokerUnavailable means a stream publish or read could not reach
	// the broker.
	ErrBrokerUnavailable = errors.New("BROKER_UNAVAILABLE")

	// ErrIdempotencyUnavailable means the idempotency store itself failed,
	// as opposed to a key being already claimed.
	ErrIdempotencyUnavailable = errors.New("IDEMPOTENCY_UNAVAILABLE")

	// ErrLLMSchemaViolation means the accumulated model response did not
	// contain a schema-conformant JSON object.
	ErrLLMSchemaViolation = errors.New("LLM_SCHEMA_VIOLATION")

	// ErrDiffFetchFailed is fatal for a request: without the diff there is
	// nothing to review.
	ErrDiffFetchFailed = errors.New("DIFF_FETCH_FAILED")

	// ErrRateLimited is returned by SCM adapters when the provider asks us
	// to back off; the retry-at time travels in RateLimitError.
	ErrRateLimited = errors.New("SCM_RATE_LIMITED")
)

// RateLimitError carries the provider's reset hint so callers can decide
// whether waiting fits inside their deadline.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string { return ErrRateLimited.Error() }

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
