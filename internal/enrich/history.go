package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/redpen-ai/redpen/internal/review"
	"github.com/redpen-ai/redpen/internal/scm"
)

// HistoryStrategy surfaces files that historically change together with the
// modified files, over a sliding window of recent commits.
type HistoryStrategy struct {
	SCM        scm.Port
	WindowDays int
	MaxCommits int
}

func (s *HistoryStrategy) Name() string { return "history-cochange" }

func (s *HistoryStrategy) Retrieve(ctx context.Context, in Input) (review.ContextRetrievalResult, error) {
	start := time.Now()

	commits, err := s.SCM.ListRecentCommits(ctx, in.Repo, scm.HistoryQuery{
		WindowDays: s.WindowDays,
		MaxCommits: s.MaxCommits,
	})
	if err != nil {
		return review.ContextRetrievalResult{}, err
	}

	modified := make(map[string]bool)
	for _, p := range in.Document.ModifiedPaths() {
		modified[p] = true
	}

	// cochange[f] counts commits where f appeared together with at least
	// one modified file; appearances[f] counts all commits touching f.
	cochange := make(map[string]int)
	relevantCommits := 0
	for _, commit := range commits {
		touchesModified := false
		for _, f := range commit.Files {
			if modified[f] {
				touchesModified = true
				break
			}
		}
		if !touchesModified {
			continue
		}
		relevantCommits++
		for _, f := range commit.Files {
			if !modified[f] {
				cochange[f]++
			}
		}
	}

	var matches []review.ContextMatch
	for f, n := range cochange {
		confidence := float64(n) / float64(relevantCommits)
		if confidence > 0.95 {
			confidence = 0.95
		}
		reason := review.ReasonGitCochangeLow
		if confidence >= 0.5 {
			reason = review.ReasonGitCochangeHigh
		}
		matches = append(matches, review.ContextMatch{
			FilePath:   f,
			Reason:     reason,
			Confidence: confidence,
			Evidence:   evidenceCochange(n, relevantCommits),
		})
	}

	md := buildMetadata(s.Name(), matches)
	md.ExecutionTime = time.Since(start)
	return review.ContextRetrievalResult{Matches: matches, Metadata: md}, nil
}

func evidenceCochange(n, total int) string {
	return fmt.Sprintf("co-changed in %d of %d recent commits touching this change set", n, total)
}
