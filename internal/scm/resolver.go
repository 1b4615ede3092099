package scm

import (
	"fmt"

	"github.com/redpen-ai/redpen/internal/config"
	"github.com/redpen-ai/redpen/internal/review"
)

// Resolver hands out the provider client for a request. Clients are
// constructed once and shared; they are safe for concurrent use.
type Resolver struct {
	github Port
	gitlab Port
}

func NewResolver(cfg config.SCMConfig) *Resolver {
	return &Resolver{
		github: NewGitHubClient(cfg.GitHubBaseURL, cfg.GitHubToken),
		gitlab: NewGitLabClient(cfg.GitLabBaseURL, cfg.GitLabToken),
	}
}

// PortFor returns the client for the given provider.
func (r *Resolver) PortFor(provider review.Provider) (Port, error) {
	switch provider {
	case review.ProviderGitHub:
		return r.github, nil
	case review.ProviderGitLab:
		return r.gitlab, nil
	default:
		return nil, fmt.Errorf("no client for provider %q", provider)
	}
}
