// Package prompt assembles the system and user prompts for a review pass.
// Assembly order is fixed so prompts are reproducible for a given input.
package prompt

import (
	"fmt"
	"strings"

	"github.com/redpen-ai/redpen/internal/enrich"
	"github.com/redpen-ai/redpen/internal/review"
)

// SystemPrompt pins the reviewer persona, the severity taxonomy, and the
// exact JSON shape the response validator accepts.
const SystemPrompt = `You are a senior software engineer performing a code review on a proposed change.

Review the diff and any supporting context. Report findings as JSON only.

Severity taxonomy:
- "critical": correctness or security defects that must block the merge.
- "major": significant defects or risky behavior that should block the merge.
- "minor": real but low-impact problems; fix soon, need not block.
- "info": observations and style points.

Respond with a single JSON object, no prose before or after:
{
  "summary": "one-paragraph overall assessment",
  "issues": [
    {
      "file": "path/to/file",
      "start_line": 1,
      "severity": "critical|major|minor|info",
      "title": "short description",
      "suggestion": "how to fix it",
      "confidenceScore": 0.0,
      "confidenceExplanation": "why you are this confident",
      "suggestedFix": "optional base64-encoded markdown diff"
    }
  ],
  "non_blocking_notes": [
    {"file": "path/to/file", "line": 1, "note": "observation"}
  ]
}

Only report issues you can ground in the diff or the provided context. Do not
invent line numbers. start_line refers to the new file version.`

// Builder renders the user prompt from an enriched diff. The zero value is
// usable.
type Builder struct{}

// Build assembles the user prompt in fixed section order: ticket context,
// policy documents, change-request metadata, related files, expanded files,
// then the diff itself.
func (Builder) Build(req review.AsyncReviewRequest, e *enrich.EnrichedDiff) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Repository: %s\nChange request: #%d\n\n", e.Repo, req.ChangeRequestID)

	if req.UserPrompt != "" {
		b.WriteString("## Reviewer instructions\n\n")
		b.WriteString(strings.TrimSpace(req.UserPrompt))
		b.WriteString("\n\n")
	}

	if len(e.Policies) > 0 {
		b.WriteString("## Repository policies\n\n")
		for _, doc := range e.Policies {
			fmt.Fprintf(&b, "### %s (%s)\n\n%s\n\n", doc.Name, doc.Path, strings.TrimSpace(doc.Content))
		}
	}

	if m := e.PRMetadata; m != nil {
		b.WriteString("## Change request metadata\n\n")
		fmt.Fprintf(&b, "Title: %s\nAuthor: %s\n", m.Title, m.Author)
		if len(m.Labels) > 0 {
			fmt.Fprintf(&b, "Labels: %s\n", strings.Join(m.Labels, ", "))
		}
		if m.Description != "" {
			fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(m.Description))
		}
		if len(m.Commits) > 0 {
			b.WriteString("\nCommits:\n")
			for _, c := range m.Commits {
				fmt.Fprintf(&b, "- %s\n", c)
			}
		}
		b.WriteString("\n")
	}

	if len(e.ContextMatches) > 0 {
		b.WriteString("## Related files\n\n")
		b.WriteString("Files likely relevant to this change, with why and how confident the retrieval is:\n\n")
		for _, m := range e.ContextMatches {
			fmt.Fprintf(&b, "- %s (%s, confidence %.2f)", m.FilePath, m.Reason, m.Confidence)
			if m.Evidence != "" {
				fmt.Fprintf(&b, ": %s", m.Evidence)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(e.ExpandedFiles) > 0 {
		b.WriteString("## Full content of small modified files\n\n")
		for _, f := range e.Document.Files {
			content, ok := e.ExpandedFiles[f.NewPath]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "### %s\n\n```\n%s\n```\n\n", f.NewPath, strings.TrimRight(content, "\n"))
		}
	}

	b.WriteString("## Diff\n\n```diff\n")
	b.WriteString(strings.TrimRight(e.RawDiff, "\n"))
	b.WriteString("\n```\n")

	return b.String()
}
