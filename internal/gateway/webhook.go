package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/redpen-ai/redpen/internal/idempotency"
	"github.com/redpen-ai/redpen/internal/logging"
	"github.com/redpen-ai/redpen/internal/review"
)

// webhookRequest is the provider-notification body.
type webhookRequest struct {
	Provider        string `json:"provider"`
	RepositoryID    string `json:"repositoryId"`
	ChangeRequestID int64  `json:"changeRequestId"`
	ReviewMode      string `json:"reviewMode,omitempty"`
	TriggerSource   string `json:"triggerSource,omitempty"`
}

type acceptedResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleWebhook is the ingestion path: authenticate, validate, claim
// idempotency, construct the AsyncReviewRequest, route by mode, publish.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	// Auth before anything touches the body. A missing or wrong key is
	// indistinguishable to the caller; a valid key against a disabled
	// gateway is explicitly forbidden.
	if !apiKeyAllowed(r.Header.Get(headerAPIKey), s.cfg.APIKeys) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing API key")
		return
	}
	if !s.cfg.Enabled {
		writeError(w, http.StatusForbidden, "forbidden", "webhook ingestion is disabled")
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "request body is not valid JSON")
		return
	}

	provider, err := review.ParseProvider(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "provider must be github or gitlab")
		return
	}
	if strings.TrimSpace(req.RepositoryID) == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "repositoryId must not be blank")
		return
	}
	if req.ChangeRequestID <= 0 {
		writeError(w, http.StatusBadRequest, "validation_error", "changeRequestId must be a positive integer")
		return
	}

	modeStr := req.ReviewMode
	if modeStr == "" {
		modeStr = s.cfg.DefaultMode
	}
	mode, err := review.ParseReviewMode(modeStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "reviewMode must be DIFF or AGENTIC")
		return
	}

	// Effective idempotency key: caller-provided header wins, otherwise
	// the (repository, change request) pair dedupes naturally.
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		key = req.RepositoryID + ":" + strconv.FormatInt(req.ChangeRequestID, 10)
	}

	outcome, err := s.keeper.CheckAndMark(r.Context(), key, s.cfg.IdempotencyTTL)
	if err != nil {
		log.Error("idempotency store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "internal_error", "idempotency store unavailable")
		return
	}
	if outcome == idempotency.Replay {
		log.Info("webhook replay suppressed",
			"repository", logging.Sanitize(req.RepositoryID),
			"change_request", req.ChangeRequestID)
		s.metrics.RecordIngest("replay")
		writeJSON(w, http.StatusOK, acceptedResponse{Status: "already_processed"})
		return
	}

	request := review.AsyncReviewRequest{
		RequestID:       uuid.New().String(),
		Provider:        provider,
		RepositoryID:    req.RepositoryID,
		ChangeRequestID: req.ChangeRequestID,
		ReviewMode:      mode,
		CreatedAt:       time.Now().UTC(),
	}

	payload, err := review.EncodeRequest(request)
	if err != nil {
		log.Error("encode review request", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	streamKey := review.StreamForMode(mode)
	recordID, err := s.stream.Publish(r.Context(), streamKey, map[string]string{
		review.FieldRequestID: request.RequestID,
		review.FieldPayload:   payload,
	})
	if err != nil {
		// The idempotency claim stays: dedup wins over retries, external
		// retry machinery re-triggers the webhook under a new key.
		log.Error("stream publish failed", "stream", streamKey, "error", err)
		s.metrics.RecordIngest("publish_error")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to enqueue review request")
		return
	}

	if s.states != nil {
		if err := s.states.SavePending(r.Context(), request); err != nil {
			// Non-fatal: the result store stays authoritative for subscribers.
			log.Warn("persist pending review state", "request_id", request.RequestID, "error", err)
		}
	}

	log.Info("review request accepted",
		"request_id", request.RequestID,
		"stream", streamKey,
		"record_id", recordID,
		"mode", string(mode),
		"repository", logging.Sanitize(req.RepositoryID),
		"trigger", logging.Sanitize(req.TriggerSource))
	s.metrics.RecordIngest("accepted")

	writeJSON(w, http.StatusAccepted, acceptedResponse{
		RequestID: request.RequestID,
		Status:    "accepted",
		Message:   "review request enqueued",
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, errorResponse{Error: kind, Message: message})
}
