package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/redpen-ai/redpen/internal/config"
	"github.com/redpen-ai/redpen/internal/diff"
	"github.com/redpen-ai/redpen/internal/logging"
	"github.com/redpen-ai/redpen/internal/review"
	"github.com/redpen-ai/redpen/internal/scm"
)

// policyProbe is one repository policy document and the paths it may live
// at, probed in order.
type policyProbe struct {
	name  string
	paths []string
}

var policyProbes = []policyProbe{
	{"CONTRIBUTING", []string{"CONTRIBUTING.md", ".github/CONTRIBUTING.md", "docs/CONTRIBUTING.md"}},
	{"SECURITY", []string{"SECURITY.md", ".github/SECURITY.md", "docs/SECURITY.md"}},
	{"PULL_REQUEST_TEMPLATE", []string{".github/PULL_REQUEST_TEMPLATE.md", "PULL_REQUEST_TEMPLATE.md", "docs/pull_request_template.md"}},
	{"CODE_OF_CONDUCT", []string{"CODE_OF_CONDUCT.md", ".github/CODE_OF_CONDUCT.md", "docs/CODE_OF_CONDUCT.md"}},
}

// TruncationMarker is appended to any policy document cut at the size cap.
const TruncationMarker = "\n\n[TRUNCATED: document exceeds context size limit]"

// Pipeline runs the full diff→enrichment flow for one request.
type Pipeline struct {
	scm        scm.Port
	cfg        config.EnrichConfig
	strategies []Strategy
}

// NewPipeline wires the default strategy set for the given provider port.
func NewPipeline(port scm.Port, cfg config.EnrichConfig) *Pipeline {
	return &Pipeline{
		scm: port,
		cfg: cfg,
		strategies: []Strategy{
			&HistoryStrategy{SCM: port, WindowDays: cfg.CochangeWindowDays, MaxCommits: cfg.CochangeMaxCommits},
			&MetadataStrategy{SCM: port},
			&ImportStrategy{},
		},
	}
}

// Enrich fetches and parses the diff (fatal on failure), runs the context
// strategies in parallel (each failure non-fatal), merges their matches,
// expands small files, and attaches PR metadata and policy documents.
func (p *Pipeline) Enrich(ctx context.Context, repo review.RepositoryIdentifier, changeRequestID int64) (*EnrichedDiff, error) {
	log := logging.FromContext(ctx)

	raw, err := p.scm.FetchDiff(ctx, repo, changeRequestID)
	if err != nil {
		return nil, fmt.Errorf("fetch diff: %w", err)
	}
	doc, err := diff.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", review.ErrDiffFetchFailed, err)
	}

	in := Input{Repo: repo, Document: doc, RawDiff: raw}
	enriched := &EnrichedDiff{
		Repo:          repo,
		RawDiff:       raw,
		Document:      doc,
		ExpandedFiles: make(map[string]string),
	}

	// Strategies are independent; run them all, collect what survives.
	results := make([]review.ContextRetrievalResult, len(p.strategies))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range p.strategies {
		i, s := i, s
		g.Go(func() error {
			start := time.Now()
			res, err := s.Retrieve(gctx, in)
			if err != nil {
				log.Warn("context strategy failed", "strategy", s.Name(), "error", err)
				res = review.ContextRetrievalResult{Metadata: review.StrategyMetadata{
					Strategy:      s.Name(),
					ExecutionTime: time.Since(start),
					Err:           err.Error(),
				}}
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	g.Wait() // strategies never return errors upward

	enriched.ContextMatches = mergeMatches(results)
	for _, res := range results {
		enriched.StrategyMetadata = append(enriched.StrategyMetadata, res.Metadata)
	}

	p.expandSmallFiles(ctx, enriched)

	if p.cfg.IncludePRMetadata {
		meta, err := p.scm.FetchMetadata(ctx, repo, changeRequestID)
		if err != nil {
			log.Warn("fetch change-request metadata failed", "error", err)
		} else {
			if cap := p.cfg.PRMetadataCommitCap; cap > 0 && len(meta.Commits) > cap {
				meta.Commits = meta.Commits[:cap]
			}
			enriched.PRMetadata = &meta
		}
	}

	enriched.Policies = p.fetchPolicies(ctx, repo)

	log.Info("diff enriched",
		"files", len(doc.Files),
		"context_matches", len(enriched.ContextMatches),
		"files_expanded", enriched.FilesExpanded,
		"files_skipped", enriched.FilesSkipped,
		"policies", len(enriched.Policies))

	return enriched, nil
}

// expandSmallFiles pulls the full content of small modified files so the
// model sees surrounding lines beyond the hunks, subject to a per-request
// byte budget.
func (p *Pipeline) expandSmallFiles(ctx context.Context, e *EnrichedDiff) {
	budget := p.cfg.MaxExpandedFileBytes
	if budget <= 0 {
		return
	}
	log := logging.FromContext(ctx)

	for _, f := range e.Document.Files {
		if f.NewPath == "" {
			continue // deletion
		}
		if hunkLineTotal(f) > 200 {
			// Large changes already carry enough context; spend the
			// budget on the small ones.
			e.FilesSkipped++
			continue
		}
		content, err := p.scm.FetchFile(ctx, e.Repo, f.NewPath)
		if err != nil {
			if !scm.IsNotFound(err) {
				log.Warn("file expansion fetch failed", "path", f.NewPath, "error", err)
			}
			e.FilesSkipped++
			continue
		}
		if len(content) > budget {
			e.FilesSkipped++
			continue
		}
		e.ExpandedFiles[f.NewPath] = content
		e.FilesExpanded++
		budget -= len(content)
		if budget <= 0 {
			break
		}
	}
}

func hunkLineTotal(f diff.FileModification) int {
	n := 0
	for _, h := range f.Hunks {
		n += len(h.Lines)
	}
	return n
}

// fetchPolicies probes the canonical and alternate locations of each policy
// document. Missing files are normal; other failures are logged and the
// document omitted.
func (p *Pipeline) fetchPolicies(ctx context.Context, repo review.RepositoryIdentifier) []review.PolicyDocument {
	log := logging.FromContext(ctx)

	var docs []review.PolicyDocument
	for _, probe := range policyProbes {
		for _, path := range probe.paths {
			content, err := p.scm.FetchFile(ctx, repo, path)
			if err != nil {
				if scm.IsNotFound(err) {
					continue
				}
				log.Warn("policy fetch failed", "name", probe.name, "path", path, "error", err)
				break
			}

			doc := review.PolicyDocument{Name: probe.name, Path: path, Content: content}
			if limit := p.cfg.PolicyDocMaxChars; limit > 0 && len(content) > limit {
				doc.Content = content[:limit] + TruncationMarker
				doc.Truncated = true
			}
			docs = append(docs, doc)
			break // first hit wins; alternates are fallbacks
		}
	}
	return docs
}
