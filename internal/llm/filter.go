package llm

import (
	"log/slog"

	"github.com/redpen-ai/redpen/internal/review"
)

// DefaultConfidenceThreshold is used whenever the configured threshold is
// absent or out of range.
const DefaultConfidenceThreshold = 0.5

// FilterIssues drops issues below the confidence threshold and issues that
// are structurally unusable (start line before 1, unknown severity).
// Non-blocking notes pass through untouched. The input result is not
// mutated.
func FilterIssues(log *slog.Logger, result *review.ReviewResult, threshold float64) *review.ReviewResult {
	if threshold < 0 || threshold > 1 {
		log.Warn("confidence threshold out of range, using default",
			"configured", threshold, "default", DefaultConfidenceThreshold)
		threshold = DefaultConfidenceThreshold
	}

	out := *result
	out.Issues = make([]review.Issue, 0, len(result.Issues))
	for _, issue := range result.Issues {
		if issue.StartLine < 1 {
			log.Warn("dropping issue with invalid start line", "file", issue.File, "start_line", issue.StartLine)
			continue
		}
		if !review.ValidSeverity(issue.Severity) {
			log.Warn("dropping issue with unknown severity", "file", issue.File, "severity", issue.Severity)
			continue
		}
		if issue.Confidence() < threshold {
			log.Debug("dropping low-confidence issue",
				"file", issue.File, "confidence", issue.Confidence(), "threshold", threshold)
			continue
		}
		out.Issues = append(out.Issues, issue)
	}
	return &out
}
