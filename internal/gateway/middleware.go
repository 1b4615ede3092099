package gateway

import (
	"crypto/subtle"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/redpen-ai/redpen/internal/logging"
)

const (
	headerAPIKey         = "X-API-Key"
	headerIdempotencyKey = "X-Idempotency-Key"
	headerCorrelationID  = "X-Correlation-ID"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// correlationMiddleware echoes an incoming correlation id (when it looks
// like a lowercase hyphenated UUID) or generates a fresh one, sets the
// response header, and hangs a request-scoped logger on the context.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(headerCorrelationID)
		if !uuidPattern.MatchString(cid) {
			cid = uuid.New().String()
		}
		w.Header().Set(headerCorrelationID, cid)

		logger := logging.FromContext(r.Context()).With("correlation_id", cid)
		next.ServeHTTP(w, r.WithContext(logging.WithLogger(r.Context(), logger)))
	})
}

// apiKeyAllowed compares the presented key against the allowed set in
// constant time per candidate, so timing does not leak which configured key
// was closest.
func apiKeyAllowed(presented string, allowed []string) bool {
	if presented == "" {
		return false
	}
	ok := false
	for _, k := range allowed {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(k)) == 1 {
			ok = true
		}
	}
	return ok
}
