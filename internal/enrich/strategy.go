// Package enrich turns a parsed diff into the enriched bundle the prompt
// builder consumes: related files from independent context strategies,
// change-request metadata, and repository policy documents.
package enrich

import (
	"context"
	"sort"

	"github.com/redpen-ai/redpen/internal/diff"
	"github.com/redpen-ai/redpen/internal/review"
)

// Input is what every strategy sees: the parsed diff and the repository it
// belongs to. Strategies needing provider data hold their own SCM port.
type Input struct {
	Repo     review.RepositoryIdentifier
	Document *diff.Document
	RawDiff  string
}

// Strategy is one independent context-retrieval technique. Strategies run
// in parallel; a failing strategy is logged and omitted, never fatal.
type Strategy interface {
	Name() string
	Retrieve(ctx context.Context, in Input) (review.ContextRetrievalResult, error)
}

// EnrichedDiff bundles everything the prompt builder needs for one request.
type EnrichedDiff struct {
	Repo     review.RepositoryIdentifier
	RawDiff  string
	Document *diff.Document

	// ContextMatches is deduplicated by file path (max confidence wins)
	// and sorted by descending confidence.
	ContextMatches   []review.ContextMatch
	StrategyMetadata []review.StrategyMetadata

	PRMetadata *review.PRMetadata
	Policies   []review.PolicyDocument

	// ExpandedFiles maps small modified files to their full content.
	ExpandedFiles map[string]string
	FilesExpanded int
	FilesSkipped  int
}

// mergeMatches deduplicates by file path keeping the highest-confidence
// occurrence, then sorts by descending confidence (ties break on path so
// the order is deterministic).
func mergeMatches(results []review.ContextRetrievalResult) []review.ContextMatch {
	best := make(map[string]review.ContextMatch)
	for _, res := range results {
		for _, m := range res.Matches {
			if prev, ok := best[m.FilePath]; !ok || m.Confidence > prev.Confidence {
				best[m.FilePath] = m
			}
		}
	}

	merged := make([]review.ContextMatch, 0, len(best))
	for _, m := range best {
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Confidence != merged[j].Confidence {
			return merged[i].Confidence > merged[j].Confidence
		}
		return merged[i].FilePath < merged[j].FilePath
	})
	return merged
}

// buildMetadata fills the per-strategy observability record.
func buildMetadata(name string, matches []review.ContextMatch) review.StrategyMetadata {
	md := review.StrategyMetadata{
		Strategy:           name,
		CandidateCount:     len(matches),
		ReasonDistribution: make(map[review.MatchReason]int),
	}
	for _, m := range matches {
		md.ReasonDistribution[m.Reason]++
		if m.Confidence >= 0.8 {
			md.HighConfidence++
		}
	}
	return md
}
