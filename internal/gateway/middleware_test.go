package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationEchoesValidID(t *testing.T) {
	h := correlationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerCorrelationID, "0f8fad5b-d9cb-469f-a165-70867728950e")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "0f8fad5b-d9cb-469f-a165-70867728950e", rec.Header().Get(headerCorrelationID))
}

func TestCorrelationReplacesInvalidID(t *testing.T) {
	h := correlationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, bad := range []string{"", "not-a-uuid", "0F8FAD5B-D9CB-469F-A165-70867728950E", "abc\ndef"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if bad != "" {
			req.Header.Set(headerCorrelationID, bad)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		got := rec.Header().Get(headerCorrelationID)
		assert.NotEqual(t, bad, got)
		assert.Regexp(t, uuidPattern, got)
	}
}

func TestAPIKeyAllowed(t *testing.T) {
	allowed := []string{"alpha", "beta"}

	assert.True(t, apiKeyAllowed("alpha", allowed))
	assert.True(t, apiKeyAllowed("beta", allowed))
	assert.False(t, apiKeyAllowed("gamma", allowed))
	assert.False(t, apiKeyAllowed("", allowed))
	assert.False(t, apiKeyAllowed("alpha", nil))
}
