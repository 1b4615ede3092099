package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpen-ai/redpen/internal/diff"
	"github.com/redpen-ai/redpen/internal/enrich"
	"github.com/redpen-ai/redpen/internal/review"
)

const builderDiff = "--- a/pkg/a.go\n+++ b/pkg/a.go\n@@ -1,1 +1,1 @@\n-x\n+y\n"

func enrichedFixture(t *testing.T) *enrich.EnrichedDiff {
	t.Helper()
	doc, err := diff.Parse(builderDiff)
	require.NoError(t, err)

	return &enrich.EnrichedDiff{
		Repo:     review.RepositoryIdentifier{Provider: review.ProviderGitHub, OpaqueID: "acme/api"},
		RawDiff:  builderDiff,
		Document: doc,
		ContextMatches: []review.ContextMatch{
			{FilePath: "pkg/a_test.go", Reason: review.ReasonSiblingFile, Confidence: 0.7, Evidence: "test sibling"},
		},
		PRMetadata: &review.PRMetadata{
			Title:   "Tighten validation",
			Author:  "dev",
			Labels:  []string{"bug"},
			Commits: []string{"tighten input checks"},
		},
		Policies: []review.PolicyDocument{
			{Name: "CONTRIBUTING", Path: "CONTRIBUTING.md", Content: "Write tests."},
		},
		ExpandedFiles: map[string]string{"pkg/a.go": "package pkg\n\nvar y = 2\n"},
	}
}

func TestBuildSectionOrder(t *testing.T) {
	req := review.AsyncReviewRequest{ChangeRequestID: 9, UserPrompt: "Focus on error handling."}
	out := Builder{}.Build(req, enrichedFixture(t))

	sections := []string{
		"Change request: #9",
		"## Reviewer instructions",
		"## Repository policies",
		"## Change request metadata",
		"## Related files",
		"## Full content of small modified files",
		"## Diff",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(out, s)
		require.GreaterOrEqual(t, idx, 0, s)
		assert.Greater(t, idx, last, "%s out of order", s)
		last = idx
	}
}

func TestBuildContent(t *testing.T) {
	req := review.AsyncReviewRequest{ChangeRequestID: 9}
	out := Builder{}.Build(req, enrichedFixture(t))

	assert.Contains(t, out, "### CONTRIBUTING (CONTRIBUTING.md)")
	assert.Contains(t, out, "Title: Tighten validation")
	assert.Contains(t, out, "Labels: bug")
	assert.Contains(t, out, "- pkg/a_test.go (SIBLING_FILE, confidence 0.70): test sibling")
	assert.Contains(t, out, "### pkg/a.go")
	assert.Contains(t, out, "```diff\n"+strings.TrimRight(builderDiff, "\n")+"\n```")
}

func TestBuildOmitsEmptySections(t *testing.T) {
	doc, err := diff.Parse(builderDiff)
	require.NoError(t, err)

	out := Builder{}.Build(review.AsyncReviewRequest{ChangeRequestID: 1}, &enrich.EnrichedDiff{
		Repo:     review.RepositoryIdentifier{Provider: review.ProviderGitHub, OpaqueID: "a/b"},
		RawDiff:  builderDiff,
		Document: doc,
	})

	assert.NotContains(t, out, "## Reviewer instructions")
	assert.NotContains(t, out, "## Repository policies")
	assert.NotContains(t, out, "## Change request metadata")
	assert.NotContains(t, out, "## Related files")
	assert.NotContains(t, out, "## Full content")
	assert.Contains(t, out, "## Diff")
}

func TestBuildAgenticIncludesSandboxEvidence(t *testing.T) {
	req := review.AsyncReviewRequest{
		Provider:        review.ProviderGitHub,
		RepositoryID:    "acme/api",
		ChangeRequestID: 3,
	}
	summaries := []review.TestSummary{
		{
			Framework: "go",
			Passed:    4,
			Failed:    1,
			ExitCode:  1,
			Tests: []review.TestExecutionResult{
				{Name: "TestAdd", Passed: true},
				{Name: "TestDivide", Passed: false, Detail: "expected 2, got 3"},
			},
		},
	}
	findings := []review.SecurityFinding{
		{Detector: "command-injection", File: "run.py", Line: 4, Severity: "CRITICAL", Message: "process execution"},
	}

	out := BuildAgentic(req, builderDiff, summaries, findings)

	assert.Contains(t, out, "### go: 4 passed, 1 failed (exit 1)")
	assert.Contains(t, out, "- [PASS] TestAdd")
	assert.Contains(t, out, "- [FAIL] TestDivide (expected 2, got 3)")
	assert.Contains(t, out, "## Static security findings on added lines")
	assert.Contains(t, out, "- [CRITICAL] run.py:4 command-injection: process execution")

	diffIdx := strings.Index(out, "## Diff")
	sandboxIdx := strings.Index(out, "## Sandbox test execution")
	assert.Greater(t, diffIdx, sandboxIdx, "evidence precedes the diff")
}

func TestBuildAgenticNoFrameworkDetected(t *testing.T) {
	out := BuildAgentic(review.AsyncReviewRequest{Provider: review.ProviderGitHub}, builderDiff, nil, nil)
	assert.Contains(t, out, "No test framework was detected in the repository.")
	assert.NotContains(t, out, "## Static security findings")
}

func TestAgenticSystemPromptExtendsBase(t *testing.T) {
	assert.True(t, strings.HasPrefix(AgenticSystemPrompt, SystemPrompt))
	assert.Contains(t, AgenticSystemPrompt, "isolated sandbox")
}
