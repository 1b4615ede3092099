package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("  GitHub ")
	require.NoError(t, err)
	assert.Equal(t, ProviderGitHub, p)

	_, err = ParseProvider("bitbucket")
	assert.Error(t, err)
}

func TestParseReviewModeDefaultsToDiff(t *testing.T) {
	m, err := ParseReviewMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDiff, m)

	m, err = ParseReviewMode("agentic")
	require.NoError(t, err)
	assert.Equal(t, ModeAgentic, m)

	_, err = ParseReviewMode("turbo")
	assert.Error(t, err)
}

func TestRequestRoundTrip(t *testing.T) {
	req := AsyncReviewRequest{
		RequestID:       "r-1",
		Provider:        ProviderGitLab,
		RepositoryID:    "group/project",
		ChangeRequestID: 42,
		ReviewMode:      ModeAgentic,
		UserPrompt:      "focus on concurrency",
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
	}
	payload, err := EncodeRequest(req)
	require.NoError(t, err)

	got, err := DecodeRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestDecodeRequestRejectsGarbage(t *testing.T) {
	_, err := DecodeRequest("{not json")
	assert.Error(t, err)
}

func TestStreamForMode(t *testing.T) {
	assert.Equal(t, StreamDiffRequests, StreamForMode(ModeDiff))
	assert.Equal(t, StreamAgentRequests, StreamForMode(ModeAgentic))
	assert.Equal(t, StreamDiffRequests, StreamForMode(ReviewMode("bogus")))
}

func TestStateMachine(t *testing.T) {
	assert.True(t, StatePending.CanTransition(StateProcessing))
	assert.True(t, StatePending.CanTransition(StateFailed))
	assert.False(t, StatePending.CanTransition(StateCompleted))

	assert.True(t, StateProcessing.CanTransition(StateCompleted))
	assert.True(t, StateProcessing.CanTransition(StateFailed))
	assert.False(t, StateProcessing.CanTransition(StatePending))

	// Terminal states never move.
	for _, terminal := range []State{StateCompleted, StateFailed} {
		assert.True(t, terminal.Terminal())
		for _, next := range []State{StatePending, StateProcessing, StateCompleted, StateFailed} {
			assert.False(t, terminal.CanTransition(next), "%s -> %s", terminal, next)
		}
	}
}

func TestIssueConfidenceDefault(t *testing.T) {
	var i Issue
	assert.Equal(t, 0.5, i.Confidence())

	c := 0.9
	i.ConfidenceScore = &c
	assert.Equal(t, 0.9, i.Confidence())
}

func TestEventKeys(t *testing.T) {
	assert.Equal(t, "review:results:abc", ResultKey("abc"))
	assert.Equal(t, "review:status:abc", StatusChannel("abc"))
	assert.Equal(t, "review:published:abc", PublishedChannel("abc"))
	assert.Equal(t, "review:*:abc", EventPattern("abc"))
}
