package prompt

import (
	"fmt"
	"strings"

	"github.com/redpen-ai/redpen/internal/review"
)

// AgenticSystemPrompt extends the reviewer persona with sandbox evidence:
// the model synthesizes test execution results and static security findings
// into the same JSON result shape.
const AgenticSystemPrompt = SystemPrompt + `

You are also given the results of running the project's test suites against
the proposed change inside an isolated sandbox, plus static security findings
over the added lines. Weigh failing tests and security findings heavily in
severity and confidence. Attribute test failures to the change only when the
diff plausibly explains them.`

// BuildAgentic renders the user prompt for an agentic review: sandbox
// evidence first, then the diff.
func BuildAgentic(req review.AsyncReviewRequest, rawDiff string, summaries []review.TestSummary, findings []review.SecurityFinding) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Repository: %s/%s\nChange request: #%d\n\n", req.Provider, req.RepositoryID, req.ChangeRequestID)

	if req.UserPrompt != "" {
		b.WriteString("## Reviewer instructions\n\n")
		b.WriteString(strings.TrimSpace(req.UserPrompt))
		b.WriteString("\n\n")
	}

	b.WriteString("## Sandbox test execution\n\n")
	if len(summaries) == 0 {
		b.WriteString("No test framework was detected in the repository.\n\n")
	}
	for _, s := range summaries {
		fmt.Fprintf(&b, "### %s: %d passed, %d failed (exit %d", s.Framework, s.Passed, s.Failed, s.ExitCode)
		if s.TimedOut {
			b.WriteString(", killed at wall timeout")
		}
		b.WriteString(")\n\n")
		for _, t := range s.Tests {
			status := "PASS"
			if !t.Passed {
				status = "FAIL"
			}
			fmt.Fprintf(&b, "- [%s] %s", status, t.Name)
			if t.Detail != "" {
				fmt.Fprintf(&b, " (%s)", t.Detail)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(findings) > 0 {
		b.WriteString("## Static security findings on added lines\n\n")
		for _, f := range findings {
			fmt.Fprintf(&b, "- [%s] %s:%d %s: %s\n", f.Severity, f.File, f.Line, f.Detector, f.Message)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Diff\n\n```diff\n")
	b.WriteString(strings.TrimRight(rawDiff, "\n"))
	b.WriteString("\n```\n")

	return b.String()
}
