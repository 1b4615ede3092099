package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/redpen-ai/redpen/internal/logging"
	"github.com/redpen-ai/redpen/internal/review"
)

// sseEvent is the wire shape of one live-review event. Exactly one of the
// optional fields is set, keyed by Type.
type sseEvent struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// handleReviewEvents streams the lifecycle of one review over SSE. The
// subscriber must observe the result hash before reacting to a channel
// event, so every terminal frame re-reads the hash.
func (s *Server) handleReviewEvents(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestId"]
	log := logging.FromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := make(chan string, 8)
	stop, err := s.results.SubscribePattern(r.Context(), review.EventPattern(requestID), func(channel, payload string) {
		select {
		case events <- channel + "|" + payload:
		default:
		}
	})
	if err != nil {
		log.Error("sse subscribe failed", "request_id", requestID, "error", err)
		http.Error(w, "subscription failed", http.StatusServiceUnavailable)
		return
	}
	defer stop()

	publishedChannel := review.PublishedChannel(requestID)
	lingering := false
	linger := time.NewTimer(time.Hour)
	defer linger.Stop()

	// Check the hash only after subscribing, so a terminal write can never
	// land in a gap we are blind to. Completed reviews replay immediately
	// and then linger for the publication signal.
	switch s.emitFromHash(w, flusher, r, requestID) {
	case "FAILED":
		return
	case "COMPLETED":
		lingering = true
		linger.Reset(30 * time.Second)
	}

	for {
		select {
		case <-r.Context().Done():
			return

		case <-linger.C:
			return

		case msg := <-events:
			channel, payload, _ := strings.Cut(msg, "|")
			if channel == publishedChannel {
				writeSSE(w, flusher, sseEvent{Type: "PUBLISHED", Message: "review comments published"})
				if lingering {
					return
				}
				continue
			}

			switch payload {
			case "COMPLETED":
				if !lingering {
					s.emitFromHash(w, flusher, r, requestID)
				}
				// Keep the stream open briefly for the PUBLISHED signal.
				lingering = true
				linger.Reset(30 * time.Second)
			case "FAILED":
				s.emitFromHash(w, flusher, r, requestID)
				return
			}
		}
	}
}

// emitFromHash renders the current result hash as SSE frames and returns
// the terminal status it found ("" when the review is still in flight). A
// completed review leaves the stream open so the caller can wait for the
// publication signal.
func (s *Server) emitFromHash(w http.ResponseWriter, flusher http.Flusher, r *http.Request, requestID string) string {
	hash, err := s.results.GetHash(r.Context(), review.ResultKey(requestID))
	if err != nil || len(hash) == 0 {
		return ""
	}

	switch hash["status"] {
	case "COMPLETED":
		content := json.RawMessage(hash["result"])
		if !json.Valid(content) {
			content, _ = json.Marshal(hash["result"])
		}
		writeSSE(w, flusher, sseEvent{
			Type:    "ANALYSIS",
			Content: content,
			Metadata: map[string]string{
				"llmProvider":      hash["llmProvider"],
				"llmModel":         hash["llmModel"],
				"processingTimeMs": hash["processingTimeMs"],
			},
		})
		writeSSE(w, flusher, sseEvent{Type: "DONE", Message: "review completed"})
		return "COMPLETED"
	case "FAILED":
		writeSSE(w, flusher, sseEvent{Type: "ERROR", Error: hash["error"]})
		return "FAILED"
	}
	return ""
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev sseEvent) {
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
