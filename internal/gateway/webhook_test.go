package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpen-ai/redpen/internal/broker"
	"github.com/redpen-ai/redpen/internal/config"
	"github.com/redpen-ai/redpen/internal/idempotency"
	"github.com/redpen-ai/redpen/internal/review"
)

type fakeStream struct {
	published []struct {
		Stream string
		Fields map[string]string
	}
	publishErr error
}

func (f *fakeStream) Publish(_ context.Context, streamKey string, fields map[string]string) (string, error) {
	if f.publishErr != nil {
		return "", f.publishErr
	}
	f.published = append(f.published, struct {
		Stream string
		Fields map[string]string
	}{streamKey, fields})
	return "1-0", nil
}

func (f *fakeStream) ReadBatch(context.Context, string, string, string, int64, time.Duration) ([]broker.StreamRecord, error) {
	return nil, nil
}
func (f *fakeStream) Acknowledge(context.Context, string, string, string) error { return nil }
func (f *fakeStream) EnsureGroup(context.Context, string, string, string) error { return nil }

type fakeClaimStore struct {
	claims map[string]bool
	err    error
}

func (f *fakeClaimStore) SetIfAbsent(_ context.Context, key, _ string, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.claims[key] {
		return false, nil
	}
	if f.claims == nil {
		f.claims = map[string]bool{}
	}
	f.claims[key] = true
	return true, nil
}

func (f *fakeClaimStore) Exists(_ context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.claims[key], nil
}

type fakeStates struct {
	saved []review.AsyncReviewRequest
	err   error
}

func (f *fakeStates) SavePending(_ context.Context, req review.AsyncReviewRequest) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, req)
	return nil
}

func newTestServer(stream *fakeStream, claims *fakeClaimStore, states *fakeStates) *Server {
	cfg := config.GatewayConfig{
		Port:           0,
		WebhookPath:    "/webhooks",
		Enabled:        true,
		APIKeys:        []string{"secret-key"},
		IdempotencyTTL: time.Hour,
		DefaultMode:    "DIFF",
	}
	return NewServer(cfg, stream, nil, idempotency.NewKeeper(claims), states, nil)
}

func postWebhook(t *testing.T, s *Server, apiKey, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(body))
	if apiKey != "" {
		req.Header.Set(headerAPIKey, apiKey)
	}
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

const validBody = `{"provider":"github","repositoryId":"acme/widgets","changeRequestId":7}`

func TestWebhookAccepted(t *testing.T) {
	stream := &fakeStream{}
	states := &fakeStates{}
	s := newTestServer(stream, &fakeClaimStore{}, states)

	rec := postWebhook(t, s, "secret-key", validBody)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp acceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.NotEmpty(t, resp.RequestID)

	require.Len(t, stream.published, 1)
	assert.Equal(t, review.StreamDiffRequests, stream.published[0].Stream)

	decoded, err := review.DecodeRequest(stream.published[0].Fields[review.FieldPayload])
	require.NoError(t, err)
	assert.Equal(t, resp.RequestID, decoded.RequestID)
	assert.Equal(t, review.ProviderGitHub, decoded.Provider)
	assert.Equal(t, int64(7), decoded.ChangeRequestID)
	assert.Equal(t, review.ModeDiff, decoded.ReviewMode)

	require.Len(t, states.saved, 1)
	assert.Equal(t, resp.RequestID, states.saved[0].RequestID)
}

func TestWebhookRoutesAgenticMode(t *testing.T) {
	stream := &fakeStream{}
	s := newTestServer(stream, &fakeClaimStore{}, &fakeStates{})

	body := `{"provider":"gitlab","repositoryId":"g/p","changeRequestId":3,"reviewMode":"AGENTIC"}`
	rec := postWebhook(t, s, "secret-key", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, stream.published, 1)
	assert.Equal(t, review.StreamAgentRequests, stream.published[0].Stream)
}

func TestWebhookUnauthorized(t *testing.T) {
	stream := &fakeStream{}
	s := newTestServer(stream, &fakeClaimStore{}, &fakeStates{})

	for _, key := range []string{"", "wrong-key"} {
		rec := postWebhook(t, s, key, validBody)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	assert.Empty(t, stream.published)
}

func TestWebhookDisabledGateway(t *testing.T) {
	s := newTestServer(&fakeStream{}, &fakeClaimStore{}, &fakeStates{})
	s.cfg.Enabled = false

	rec := postWebhook(t, s, "secret-key", validBody)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookValidation(t *testing.T) {
	cases := map[string]string{
		"malformed json":   `{`,
		"unknown provider": `{"provider":"svn","repositoryId":"a/b","changeRequestId":1}`,
		"blank repository": `{"provider":"github","repositoryId":"  ","changeRequestId":1}`,
		"zero change id":   `{"provider":"github","repositoryId":"a/b","changeRequestId":0}`,
		"negative change":  `{"provider":"github","repositoryId":"a/b","changeRequestId":-2}`,
		"bad mode":         `{"provider":"github","repositoryId":"a/b","changeRequestId":1,"reviewMode":"FAST"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			stream := &fakeStream{}
			s := newTestServer(stream, &fakeClaimStore{}, &fakeStates{})
			rec := postWebhook(t, s, "secret-key", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, stream.published)
		})
	}
}

func TestWebhookReplaySuppressed(t *testing.T) {
	stream := &fakeStream{}
	s := newTestServer(stream, &fakeClaimStore{}, &fakeStates{})

	first := postWebhook(t, s, "secret-key", validBody)
	require.Equal(t, http.StatusAccepted, first.Code)

	second := postWebhook(t, s, "secret-key", validBody)
	require.Equal(t, http.StatusOK, second.Code)

	var resp acceptedResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "already_processed", resp.Status)
	assert.Len(t, stream.published, 1)
}

func TestWebhookHeaderKeyOverridesDerivedKey(t *testing.T) {
	stream := &fakeStream{}
	s := newTestServer(stream, &fakeClaimStore{}, &fakeStates{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(validBody))
	req.Header.Set(headerAPIKey, "secret-key")
	req.Header.Set(headerIdempotencyKey, "caller-chosen")
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Same body under a different caller key is a fresh claim.
	req2 := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(validBody))
	req2.Header.Set(headerAPIKey, "secret-key")
	req2.Header.Set(headerIdempotencyKey, "another")
	rec2 := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusAccepted, rec2.Code)
	assert.Len(t, stream.published, 2)
}

func TestWebhookIdempotencyStoreDown(t *testing.T) {
	stream := &fakeStream{}
	s := newTestServer(stream, &fakeClaimStore{err: errors.New("connection refused")}, &fakeStates{})

	rec := postWebhook(t, s, "secret-key", validBody)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, stream.published)
}

func TestWebhookPublishFailure(t *testing.T) {
	stream := &fakeStream{publishErr: review.ErrBrokerUnavailable}
	claims := &fakeClaimStore{}
	s := newTestServer(stream, claims, &fakeStates{})

	rec := postWebhook(t, s, "secret-key", validBody)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// The claim stays: dedup wins over retry convenience.
	held, err := claims.Exists(context.Background(), "review:idempotency:acme/widgets:7")
	require.NoError(t, err)
	assert.True(t, held)
}

func TestWebhookStateSaveFailureIsNonFatal(t *testing.T) {
	stream := &fakeStream{}
	s := newTestServer(stream, &fakeClaimStore{}, &fakeStates{err: errors.New("db down")})

	rec := postWebhook(t, s, "secret-key", validBody)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, stream.published, 1)
}
