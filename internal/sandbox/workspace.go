// Package sandbox clones a change request into a scratch workspace, detects
// its build frameworks, and runs their test suites inside a locked-down
// container.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/redpen-ai/redpen/internal/logging"
	"github.com/redpen-ai/redpen/internal/review"
)

// Workspace is one cloned change request on local disk, ready to be bind
// mounted into the runner container.
type Workspace struct {
	Dir     string
	HeadSHA string
}

// Cloner materializes change requests as shallow clones under Root. Token
// is injected into the clone URL and never logged.
type Cloner struct {
	Root  string
	Token string
}

// Clone checks out the head of the change request. The caller owns the
// returned workspace and must Remove it.
func (c *Cloner) Clone(ctx context.Context, repo review.RepositoryIdentifier, changeRequestID int64) (*Workspace, error) {
	log := logging.FromContext(ctx)

	dir := filepath.Join(c.Root, "review-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	cloneURL, headRef, err := c.remote(repo, changeRequestID)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	steps := [][]string{
		{"git", "clone", "--depth", "1", cloneURL, dir},
		{"git", "-C", dir, "fetch", "--depth", "1", "origin", headRef + ":review-head"},
		{"git", "-C", dir, "checkout", "review-head"},
	}
	for _, args := range steps {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
		if out, err := cmd.CombinedOutput(); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("%s: %w: %s", args[0]+" "+args[1], err, redactToken(string(out), c.Token))
		}
	}

	sha, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD").Output()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	ws := &Workspace{Dir: dir, HeadSHA: strings.TrimSpace(string(sha))}
	log.Info("workspace cloned", "repository", repo.String(), "change_request", changeRequestID, "head", ws.HeadSHA)
	return ws, nil
}

// Remove deletes the workspace directory.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Dir)
}

// remote builds the authenticated clone URL and the provider-specific ref
// that points at the change request head.
func (c *Cloner) remote(repo review.RepositoryIdentifier, changeRequestID int64) (cloneURL, headRef string, err error) {
	switch repo.Provider {
	case review.ProviderGitHub:
		auth := ""
		if c.Token != "" {
			auth = "x-access-token:" + c.Token + "@"
		}
		return fmt.Sprintf("https://%sgithub.com/%s.git", auth, repo.OpaqueID),
			fmt.Sprintf("pull/%d/head", changeRequestID), nil
	case review.ProviderGitLab:
		auth := ""
		if c.Token != "" {
			auth = "oauth2:" + c.Token + "@"
		}
		return fmt.Sprintf("https://%sgitlab.com/%s.git", auth, repo.OpaqueID),
			fmt.Sprintf("merge-requests/%d/head", changeRequestID), nil
	default:
		return "", "", fmt.Errorf("no clone support for provider %q", repo.Provider)
	}
}

func redactToken(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "<redacted>")
}
