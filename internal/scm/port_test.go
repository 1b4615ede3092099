package scm

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpen-ai/redpen/internal/review"
)

func response(status int, headers map[string]string, body string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestCheckResponseSuccess(t *testing.T) {
	for _, status := range []int{200, 201, 204} {
		assert.NoError(t, checkResponse(response(status, nil, ""), "x"), status)
	}
}

func TestCheckResponseNotFound(t *testing.T) {
	err := checkResponse(response(404, nil, ""), "CONTRIBUTING.md")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "CONTRIBUTING.md")
}

func TestCheckResponseRateLimited(t *testing.T) {
	err := checkResponse(response(429, map[string]string{"Retry-After": "17"}, ""), "x")
	var rl *review.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 17, rl.RetryAfterSeconds)
}

func TestCheckResponseForbiddenQuotaExhausted(t *testing.T) {
	// GitHub signals secondary rate limits as 403 with a zeroed quota header.
	err := checkResponse(response(403, map[string]string{"X-RateLimit-Remaining": "0"}, ""), "x")
	var rl *review.RateLimitError
	assert.True(t, errors.As(err, &rl))

	// A plain 403 is an authorization failure, not a rate limit.
	err = checkResponse(response(403, nil, "forbidden"), "x")
	assert.False(t, errors.As(err, &rl))
}

func TestCheckResponseDefaultIncludesBody(t *testing.T) {
	err := checkResponse(response(502, nil, "upstream broke"), "diff")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream broke")
}

func TestRetryAfterSecondsPrecedence(t *testing.T) {
	reset := strconv.FormatInt(time.Now().Add(90*time.Second).Unix(), 10)

	resp := response(429, map[string]string{"Retry-After": "5", "X-RateLimit-Reset": reset}, "")
	assert.Equal(t, 5, retryAfterSeconds(resp))

	resp = response(429, map[string]string{"X-RateLimit-Reset": reset}, "")
	got := retryAfterSeconds(resp)
	assert.InDelta(t, 90, got, 3)

	resp = response(429, nil, "")
	assert.Equal(t, 60, retryAfterSeconds(resp))
}

func TestRetryAfterSecondsIgnoresStaleReset(t *testing.T) {
	past := strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10)
	resp := response(429, map[string]string{"X-RateLimit-Reset": past}, "")
	assert.Equal(t, 60, retryAfterSeconds(resp))
}
