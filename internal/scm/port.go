// Package scm abstracts the hosted source-control providers behind one
// port. Adapters are plain REST clients selected by the composition root.
package scm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/redpen-ai/redpen/internal/review"
)

// CommitFiles is one commit and the paths it touched, for the co-change
// strategy.
type CommitFiles struct {
	SHA   string
	Files []string
}

// HistoryQuery bounds the commit window for co-change analysis.
type HistoryQuery struct {
	WindowDays int
	MaxCommits int
}

// Port is everything the pipeline needs from a provider. Adapters return
// *review.RateLimitError when the provider asks us to back off.
type Port interface {
	// FetchDiff returns the unified diff text of a change request.
	FetchDiff(ctx context.Context, repo review.RepositoryIdentifier, changeRequestID int64) (string, error)

	// FetchMetadata returns the change-request header data.
	FetchMetadata(ctx context.Context, repo review.RepositoryIdentifier, changeRequestID int64) (review.PRMetadata, error)

	// FetchFile returns the raw content of a file at the default branch,
	// or an error satisfying IsNotFound when the path does not exist.
	FetchFile(ctx context.Context, repo review.RepositoryIdentifier, path string) (string, error)

	// ListDirectory returns the paths of the files directly under dir at
	// the default branch. A missing directory is an empty listing.
	ListDirectory(ctx context.Context, repo review.RepositoryIdentifier, dir string) ([]string, error)

	// ListRecentCommits returns commits and their touched files inside
	// the history window, newest first.
	ListRecentCommits(ctx context.Context, repo review.RepositoryIdentifier, q HistoryQuery) ([]CommitFiles, error)

	// PublishComment posts a review comment body on the change request.
	PublishComment(ctx context.Context, repo review.RepositoryIdentifier, changeRequestID int64, body string) error
}

// NotFoundError marks a missing path so policy probing can distinguish
// "file absent" from real failures.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string { return "not found: " + e.Path }

// IsNotFound reports whether err is a missing-path error.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// escapePath escapes a repository path segment by segment, keeping the
// slashes literal. url.PathEscape would encode "/" as %2F, which GitHub's
// contents API answers with a 404.
func escapePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}

// checkResponse maps provider status codes onto the error taxonomy.
func checkResponse(resp *http.Response, path string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Path: path}
	case resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"):
		return &review.RateLimitError{RetryAfterSeconds: retryAfterSeconds(resp)}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("scm request %s: status %d: %s", path, resp.StatusCode, body)
	}
}

// retryAfterSeconds reads the provider's reset hint: Retry-After when
// present, else the X-RateLimit-Reset epoch.
func retryAfterSeconds(resp *http.Response) int {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Until(time.Unix(epoch, 0)); d > 0 {
				return int(d.Seconds()) + 1
			}
		}
	}
	return 60
}
