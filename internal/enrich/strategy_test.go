package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpen-ai/redpen/internal/diff"
	"github.com/redpen-ai/redpen/internal/review"
)

func TestMergeMatchesDedupesKeepingMaxConfidence(t *testing.T) {
	results := []review.ContextRetrievalResult{
		{Matches: []review.ContextMatch{
			{FilePath: "a.go", Reason: review.ReasonSamePackage, Confidence: 0.4},
			{FilePath: "b.go", Reason: review.ReasonSiblingFile, Confidence: 0.7},
		}},
		{Matches: []review.ContextMatch{
			{FilePath: "a.go", Reason: review.ReasonGitCochangeHigh, Confidence: 0.9},
			{FilePath: "c.go", Reason: review.ReasonDirectImport, Confidence: 0.7},
		}},
	}

	merged := mergeMatches(results)
	require.Len(t, merged, 3)

	// Sorted by descending confidence; ties break on path.
	assert.Equal(t, "a.go", merged[0].FilePath)
	assert.Equal(t, review.ReasonGitCochangeHigh, merged[0].Reason)
	assert.Equal(t, 0.9, merged[0].Confidence)
	assert.Equal(t, "b.go", merged[1].FilePath)
	assert.Equal(t, "c.go", merged[2].FilePath)
}

func TestBuildMetadataCounts(t *testing.T) {
	md := buildMetadata("test", []review.ContextMatch{
		{FilePath: "a", Reason: review.ReasonSiblingFile, Confidence: 0.85},
		{FilePath: "b", Reason: review.ReasonSiblingFile, Confidence: 0.7},
		{FilePath: "c", Reason: review.ReasonSamePackage, Confidence: 0.4},
	})

	assert.Equal(t, "test", md.Strategy)
	assert.Equal(t, 3, md.CandidateCount)
	assert.Equal(t, 1, md.HighConfidence)
	assert.Equal(t, 2, md.ReasonDistribution[review.ReasonSiblingFile])
	assert.Equal(t, 1, md.ReasonDistribution[review.ReasonSamePackage])
}

func parseDoc(t *testing.T, text string) *diff.Document {
	t.Helper()
	doc, err := diff.Parse(text)
	require.NoError(t, err)
	return doc
}

func TestMetadataStrategyFindsGoTestSibling(t *testing.T) {
	doc := parseDoc(t, "--- a/pkg/store.go\n+++ b/pkg/store.go\n@@ -1,1 +1,1 @@\n-a\n+b\n")

	res, err := (&MetadataStrategy{}).Retrieve(context.Background(), Input{Document: doc})
	require.NoError(t, err)

	require.Len(t, res.Matches, 1)
	assert.Equal(t, "pkg/store_test.go", res.Matches[0].FilePath)
	assert.Equal(t, review.ReasonSiblingFile, res.Matches[0].Reason)
	assert.Equal(t, 0.7, res.Matches[0].Confidence)
}

func TestMetadataStrategyMapsTestBackToSource(t *testing.T) {
	doc := parseDoc(t, "--- a/pkg/store_test.go\n+++ b/pkg/store_test.go\n@@ -1,1 +1,1 @@\n-a\n+b\n")

	res, err := (&MetadataStrategy{}).Retrieve(context.Background(), Input{Document: doc})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "pkg/store.go", res.Matches[0].FilePath)
}

const twoFilePackageDiff = "--- a/pkg/a.go\n+++ b/pkg/a.go\n@@ -1,1 +1,1 @@\n-x\n+y\n" +
	"--- a/pkg/b.go\n+++ b/pkg/b.go\n@@ -1,1 +1,1 @@\n-x\n+y\n"

func samePackageMatches(res review.ContextRetrievalResult) []string {
	var paths []string
	for _, m := range res.Matches {
		if m.Reason == review.ReasonSamePackage {
			paths = append(paths, m.FilePath)
		}
	}
	return paths
}

func TestMetadataStrategySamePackageNeighbours(t *testing.T) {
	doc := parseDoc(t, twoFilePackageDiff)
	port := &fakePort{dirs: map[string][]string{
		"pkg": {"pkg/a.go", "pkg/b.go", "pkg/c.go", "pkg/helpers.go"},
	}}

	res, err := (&MetadataStrategy{SCM: port}).Retrieve(context.Background(), Input{Document: doc})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"pkg/c.go", "pkg/helpers.go"}, samePackageMatches(res),
		"unmodified neighbours surface, modified files never do")
}

func TestMetadataStrategySamePackageNeedsDirectoryFocus(t *testing.T) {
	// A single modified file in a directory is not a package-wide change.
	doc := parseDoc(t, "--- a/pkg/a.go\n+++ b/pkg/a.go\n@@ -1,1 +1,1 @@\n-x\n+y\n")
	port := &fakePort{dirs: map[string][]string{
		"pkg": {"pkg/a.go", "pkg/b.go", "pkg/c.go"},
	}}

	res, err := (&MetadataStrategy{SCM: port}).Retrieve(context.Background(), Input{Document: doc})
	require.NoError(t, err)
	assert.Empty(t, samePackageMatches(res))
}

func TestMetadataStrategySamePackageCapped(t *testing.T) {
	listing := []string{"pkg/a.go", "pkg/b.go"}
	for i := 0; i < samePackageCap+5; i++ {
		listing = append(listing, "pkg/n"+string(rune('a'+i))+".go")
	}
	doc := parseDoc(t, twoFilePackageDiff)
	port := &fakePort{dirs: map[string][]string{"pkg": listing}}

	res, err := (&MetadataStrategy{SCM: port}).Retrieve(context.Background(), Input{Document: doc})
	require.NoError(t, err)
	assert.Len(t, samePackageMatches(res), samePackageCap)
}

func TestMetadataStrategyWithoutPortSkipsSamePackage(t *testing.T) {
	doc := parseDoc(t, twoFilePackageDiff)

	res, err := (&MetadataStrategy{}).Retrieve(context.Background(), Input{Document: doc})
	require.NoError(t, err)

	assert.Empty(t, samePackageMatches(res))
	assert.NotEmpty(t, res.Matches, "test siblings still surface without a port")
}

func TestImportStrategyFindsRelativeImport(t *testing.T) {
	text := "--- a/src/app/user.ts\n+++ b/src/app/user.ts\n@@ -1,1 +1,2 @@\n x\n+import { helper } from './helpers/format';\n"
	doc := parseDoc(t, text)

	res, err := (&ImportStrategy{}).Retrieve(context.Background(), Input{Document: doc})
	require.NoError(t, err)

	paths := make(map[string]review.MatchReason)
	for _, m := range res.Matches {
		paths[m.FilePath] = m.Reason
	}
	assert.Equal(t, review.ReasonDirectImport, paths["src/app/helpers/format.ts"])
}

func TestImportStrategyFindsLiteralFileReference(t *testing.T) {
	text := "--- a/loader.go\n+++ b/loader.go\n@@ -1,1 +1,2 @@\n x\n+\tdata := load(\"configs/schema.json\")\n"
	doc := parseDoc(t, text)

	res, err := (&ImportStrategy{}).Retrieve(context.Background(), Input{Document: doc})
	require.NoError(t, err)

	found := false
	for _, m := range res.Matches {
		if m.FilePath == "configs/schema.json" {
			found = true
			assert.Equal(t, review.ReasonFileReference, m.Reason)
		}
	}
	assert.True(t, found)
}

func TestImportStrategyIgnoresRemovedLines(t *testing.T) {
	text := "--- a/src/a.ts\n+++ b/src/a.ts\n@@ -1,1 +1,1 @@\n-import { x } from './gone';\n+const x = 1;\n"
	doc := parseDoc(t, text)

	res, err := (&ImportStrategy{}).Retrieve(context.Background(), Input{Document: doc})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}
