package review

// Stream and result-store key layout. Workers and the gateway must agree on
// these, so they live with the domain model.
const (
	// StreamDiffRequests carries DIFF-mode review requests.
	StreamDiffRequests = "review:requests"

	// StreamAgentRequests carries AGENTIC-mode review requests.
	StreamAgentRequests = "review:agent-requests"

	// Stream record field names.
	FieldRequestID = "requestId"
	FieldPayload   = "payload"
)

// ResultKey is the hash holding the terminal result for a request.
func ResultKey(requestID string) string {
	return "review:results:" + requestID
}

// StatusChannel carries the literal "COMPLETED" or "FAILED" for a request.
func StatusChannel(requestID string) string {
	return "review:status:" + requestID
}

// StatusPattern matches every per-request status channel.
const StatusPattern = "review:status:*"

// PublishedChannel signals that comments for a request reached the
// provider. Separate from StatusChannel, which only ever carries the
// literal terminal status.
func PublishedChannel(requestID string) string {
	return "review:published:" + requestID
}

// EventPattern matches both the status and published channels for one
// request, for SSE subscribers.
func EventPattern(requestID string) string {
	return "review:*:" + requestID
}

// StreamForMode is the review-mode router: a two-entry table from mode to
// stream key. Unknown modes fall back to the DIFF stream.
func StreamForMode(mode ReviewMode) string {
	if mode == ModeAgentic {
		return StreamAgentRequests
	}
	return StreamDiffRequests
}
