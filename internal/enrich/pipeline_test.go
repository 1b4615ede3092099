package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpen-ai/redpen/internal/config"
	"github.com/redpen-ai/redpen/internal/review"
	"github.com/redpen-ai/redpen/internal/scm"
)

type fakePort struct {
	diff     string
	diffErr  error
	files    map[string]string
	dirs     map[string][]string
	commits  []scm.CommitFiles
	metadata review.PRMetadata
}

func (f *fakePort) FetchDiff(context.Context, review.RepositoryIdentifier, int64) (string, error) {
	return f.diff, f.diffErr
}

func (f *fakePort) FetchMetadata(context.Context, review.RepositoryIdentifier, int64) (review.PRMetadata, error) {
	return f.metadata, nil
}

func (f *fakePort) FetchFile(_ context.Context, _ review.RepositoryIdentifier, path string) (string, error) {
	if content, ok := f.files[path]; ok {
		return content, nil
	}
	return "", &scm.NotFoundError{Path: path}
}

func (f *fakePort) ListDirectory(_ context.Context, _ review.RepositoryIdentifier, dir string) ([]string, error) {
	return f.dirs[dir], nil
}

func (f *fakePort) ListRecentCommits(context.Context, review.RepositoryIdentifier, scm.HistoryQuery) ([]scm.CommitFiles, error) {
	return f.commits, nil
}

func (f *fakePort) PublishComment(context.Context, review.RepositoryIdentifier, int64, string) error {
	return nil
}

const pipelineDiff = "--- a/svc/handler.go\n+++ b/svc/handler.go\n@@ -1,1 +1,1 @@\n-old\n+new\n"

func testCfg() config.EnrichConfig {
	return config.EnrichConfig{
		CochangeWindowDays:   90,
		CochangeMaxCommits:   100,
		MaxExpandedFileBytes: 1024,
		PolicyDocMaxChars:    100,
		PRMetadataCommitCap:  2,
		IncludePRMetadata:    true,
	}
}

func TestPipelineEnrich(t *testing.T) {
	port := &fakePort{
		diff: pipelineDiff,
		files: map[string]string{
			"svc/handler.go":  "package svc\n",
			"CONTRIBUTING.md": "Please write tests.",
		},
		commits: []scm.CommitFiles{
			{SHA: "c1", Files: []string{"svc/handler.go", "svc/router.go"}},
			{SHA: "c2", Files: []string{"svc/handler.go", "svc/router.go"}},
			{SHA: "c3", Files: []string{"unrelated.go"}},
		},
		metadata: review.PRMetadata{
			Title:   "Refactor handler",
			Author:  "dev",
			Commits: []string{"one", "two", "three"},
		},
	}

	p := NewPipeline(port, testCfg())
	enriched, err := p.Enrich(context.Background(), review.RepositoryIdentifier{Provider: review.ProviderGitHub, OpaqueID: "a/b"}, 1)
	require.NoError(t, err)

	// Co-change: router.go appeared in 2 of 2 relevant commits, capped 0.95.
	var cochange *review.ContextMatch
	for i := range enriched.ContextMatches {
		if enriched.ContextMatches[i].FilePath == "svc/router.go" {
			cochange = &enriched.ContextMatches[i]
		}
	}
	require.NotNil(t, cochange)
	assert.Equal(t, review.ReasonGitCochangeHigh, cochange.Reason)
	assert.Equal(t, 0.95, cochange.Confidence)

	// One metadata record per strategy, none failed.
	require.Len(t, enriched.StrategyMetadata, 3)
	for _, md := range enriched.StrategyMetadata {
		assert.Empty(t, md.Err, md.Strategy)
	}

	// Small modified file expanded in full.
	assert.Equal(t, 1, enriched.FilesExpanded)
	assert.Equal(t, "package svc\n", enriched.ExpandedFiles["svc/handler.go"])

	// Commit list capped at two.
	require.NotNil(t, enriched.PRMetadata)
	assert.Len(t, enriched.PRMetadata.Commits, 2)

	// Only the policy present in the repo comes back.
	require.Len(t, enriched.Policies, 1)
	assert.Equal(t, "CONTRIBUTING", enriched.Policies[0].Name)
	assert.False(t, enriched.Policies[0].Truncated)
}

func TestPipelineFatalOnDiffFailure(t *testing.T) {
	port := &fakePort{diffErr: errors.New("upstream 502")}
	p := NewPipeline(port, testCfg())

	_, err := p.Enrich(context.Background(), review.RepositoryIdentifier{}, 1)
	assert.Error(t, err)
}

func TestPipelineTruncatesOversizedPolicy(t *testing.T) {
	long := strings.Repeat("x", 500)
	port := &fakePort{
		diff:  pipelineDiff,
		files: map[string]string{"SECURITY.md": long},
	}
	p := NewPipeline(port, testCfg())

	enriched, err := p.Enrich(context.Background(), review.RepositoryIdentifier{}, 1)
	require.NoError(t, err)

	require.Len(t, enriched.Policies, 1)
	doc := enriched.Policies[0]
	assert.True(t, doc.Truncated)
	assert.True(t, strings.HasSuffix(doc.Content, TruncationMarker))
	assert.Len(t, doc.Content, 100+len(TruncationMarker))
}

func TestPipelinePolicyAlternatePathFallback(t *testing.T) {
	port := &fakePort{
		diff:  pipelineDiff,
		files: map[string]string{".github/CONTRIBUTING.md": "alt location"},
	}
	p := NewPipeline(port, testCfg())

	enriched, err := p.Enrich(context.Background(), review.RepositoryIdentifier{}, 1)
	require.NoError(t, err)

	require.Len(t, enriched.Policies, 1)
	assert.Equal(t, ".github/CONTRIBUTING.md", enriched.Policies[0].Path)
}

func TestPipelineSkipsOversizedExpansion(t *testing.T) {
	port := &fakePort{
		diff:  pipelineDiff,
		files: map[string]string{"svc/handler.go": strings.Repeat("y", 5000)},
	}
	p := NewPipeline(port, testCfg())

	enriched, err := p.Enrich(context.Background(), review.RepositoryIdentifier{}, 1)
	require.NoError(t, err)

	assert.Equal(t, 0, enriched.FilesExpanded)
	assert.Equal(t, 1, enriched.FilesSkipped)
	assert.Empty(t, enriched.ExpandedFiles)
}
