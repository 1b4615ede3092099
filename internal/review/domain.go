// Package review holds the domain model shared by the gateway, the stream
// workers, and the publishers. Everything here is a plain value type; the
// ports that move these values live next to their adapters.
package review

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Provider identifies the hosted source-control system a change request
// lives on.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
)

// ParseProvider validates a provider string from an untrusted source.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderGitHub:
		return ProviderGitHub, nil
	case ProviderGitLab:
		return ProviderGitLab, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// RepositoryIdentifier names a repository on a specific provider. The pair
// is immutable and compared structurally.
type RepositoryIdentifier struct {
	Provider Provider `json:"provider"`
	OpaqueID string   `json:"opaqueId"`
}

func (r RepositoryIdentifier) String() string {
	return string(r.Provider) + "/" + r.OpaqueID
}

// ReviewMode selects the worker role and target stream for a request.
type ReviewMode string

const (
	ModeDiff    ReviewMode = "DIFF"
	ModeAgentic ReviewMode = "AGENTIC"
)

// ParseReviewMode maps a request string to a mode. Absence defaults to DIFF.
func ParseReviewMode(s string) (ReviewMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(ModeDiff):
		return ModeDiff, nil
	case string(ModeAgentic):
		return ModeAgentic, nil
	default:
		return "", fmt.Errorf("unknown review mode %q", s)
	}
}

// AsyncReviewRequest is the unit of work enqueued by the ingestion gateway
// and consumed exactly once (successfully) by a single worker. RequestID is
// the end-to-end correlation id. The value is immutable once enqueued.
type AsyncReviewRequest struct {
	RequestID       string     `json:"requestId"`
	Provider        Provider   `json:"provider"`
	RepositoryID    string     `json:"repositoryId"`
	ChangeRequestID int64      `json:"changeRequestId"`
	ReviewMode      ReviewMode `json:"reviewMode"`
	UserPrompt      string     `json:"userPrompt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Repository returns the discriminated repository identifier for the request.
func (r AsyncReviewRequest) Repository() RepositoryIdentifier {
	return RepositoryIdentifier{Provider: r.Provider, OpaqueID: r.RepositoryID}
}

// EncodeRequest serializes a request for the stream payload field.
func EncodeRequest(r AsyncReviewRequest) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal review request: %w", err)
	}
	return string(b), nil
}

// DecodeRequest parses a stream payload back into a request.
func DecodeRequest(payload string) (AsyncReviewRequest, error) {
	var r AsyncReviewRequest
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return AsyncReviewRequest{}, fmt.Errorf("unmarshal review request: %w", err)
	}
	return r, nil
}

// Severity grades an issue found by the analyzer.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityInfo     Severity = "info"
)

// ValidSeverity reports whether s is one of the four allowed grades.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor, SeverityInfo:
		return true
	}
	return false
}

// Issue is a blocking review finding tied to a file location.
type Issue struct {
	File                  string   `json:"file"`
	StartLine             int      `json:"start_line"`
	Severity              Severity `json:"severity"`
	Title                 string   `json:"title"`
	Suggestion            string   `json:"suggestion"`
	ConfidenceScore       *float64 `json:"confidenceScore,omitempty"`
	ConfidenceExplanation string   `json:"confidenceExplanation,omitempty"`
	// SuggestedFix is a base64-encoded markdown diff, when the model
	// proposes an automatic fix.
	SuggestedFix string `json:"suggestedFix,omitempty"`
}

// Confidence returns the issue's confidence score, defaulting to 0.5 when
// the model did not provide one.
func (i Issue) Confidence() float64 {
	if i.ConfidenceScore == nil {
		return 0.5
	}
	return *i.ConfidenceScore
}

// Note is a non-blocking observation; notes are never confidence-filtered.
type Note struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Note string `json:"note"`
}

// ReviewResult is the structured output of one review pass.
type ReviewResult struct {
	Summary          string  `json:"summary"`
	Issues           []Issue `json:"issues"`
	NonBlockingNotes []Note  `json:"non_blocking_notes"`
	LLMProvider      string  `json:"llmProvider,omitempty"`
	LLMModel         string  `json:"llmModel,omitempty"`
	RawLLMResponse   string  `json:"rawLlmResponse,omitempty"`
}

// MatchReason explains why a context strategy pulled a file in.
type MatchReason string

const (
	ReasonFileReference    MatchReason = "FILE_REFERENCE"
	ReasonSiblingFile      MatchReason = "SIBLING_FILE"
	ReasonGitCochangeHigh  MatchReason = "GIT_COCHANGE_HIGH"
	ReasonGitCochangeLow   MatchReason = "GIT_COCHANGE_LOW"
	ReasonSamePackage      MatchReason = "SAME_PACKAGE"
	ReasonDirectImport     MatchReason = "DIRECT_IMPORT"
	ReasonTypeReference    MatchReason = "TYPE_REFERENCE"
)

// ContextMatch is one related file surfaced by a context strategy.
type ContextMatch struct {
	FilePath   string      `json:"filePath"`
	Reason     MatchReason `json:"reason"`
	Confidence float64     `json:"confidence"`
	Evidence   string      `json:"evidence,omitempty"`
}

// StrategyMetadata records per-strategy observability data. A failed
// strategy keeps its Err message here and contributes no matches.
type StrategyMetadata struct {
	Strategy           string        `json:"strategy"`
	ExecutionTime      time.Duration `json:"executionTime"`
	CandidateCount     int           `json:"candidateCount"`
	HighConfidence     int           `json:"highConfidenceCount"`
	ReasonDistribution map[MatchReason]int `json:"reasonDistribution,omitempty"`
	Err                string        `json:"error,omitempty"`
}

// ContextRetrievalResult is one strategy's output.
type ContextRetrievalResult struct {
	Matches  []ContextMatch
	Metadata StrategyMetadata
}

// PRMetadata is the change-request header data attached to the prompt.
type PRMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Author      string   `json:"author"`
	Labels      []string `json:"labels,omitempty"`
	Commits     []string `json:"commits,omitempty"`
}

// PolicyDocument is a repository policy file (CONTRIBUTING, SECURITY, ...)
// fetched for prompt context. Truncated carries the explicit marker state.
type PolicyDocument struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// State is the review lifecycle FSM. Terminal states set CompletedAt and
// never revert.
type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether s is an end state of the FSM.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether the FSM allows moving from s to next.
// PENDING → PROCESSING → {COMPLETED | FAILED}; PENDING may fail directly
// when a request never reaches a worker.
func (s State) CanTransition(next State) bool {
	switch s {
	case StatePending:
		return next == StateProcessing || next == StateFailed
	case StateProcessing:
		return next == StateCompleted || next == StateFailed
	default:
		return false
	}
}

// TestExecutionResult is one test record extracted from sandboxed tool
// output.
type TestExecutionResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// TestSummary aggregates a framework's sandboxed test run.
type TestSummary struct {
	Framework string                `json:"framework"`
	Passed    int                   `json:"passed"`
	Failed    int                   `json:"failed"`
	Tests     []TestExecutionResult `json:"tests,omitempty"`
	ExitCode  int                   `json:"exitCode"`
	Duration  time.Duration         `json:"duration"`
	TimedOut  bool                  `json:"timedOut,omitempty"`
}

// SecurityFinding is one hit from the in-process security analyzer.
type SecurityFinding struct {
	Detector string  `json:"detector"`
	File     string  `json:"file"`
	Line     int     `json:"line"`
	Severity string  `json:"severity"`
	Weight   float64 `json:"weight"`
	Message  string  `json:"message"`
}
