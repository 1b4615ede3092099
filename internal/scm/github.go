package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redpen-ai/redpen/internal/review"
)

// GitHubClient talks to the GitHub REST API v3. The repository opaque id is
// "owner/repo".
type GitHubClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewGitHubClient(baseURL, token string) *GitHubClient {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &GitHubClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *GitHubClient) do(ctx context.Context, method, path, accept string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func (c *GitHubClient) FetchDiff(ctx context.Context, repo review.RepositoryIdentifier, changeRequestID int64) (string, error) {
	path := fmt.Sprintf("/repos/%s/pulls/%d", repo.OpaqueID, changeRequestID)
	resp, err := c.do(ctx, http.MethodGet, path, "application/vnd.github.v3.diff", nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", review.ErrDiffFetchFailed, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, path); err != nil {
		return "", fmt.Errorf("%w: %v", review.ErrDiffFetchFailed, err)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", review.ErrDiffFetchFailed, err)
	}
	return string(raw), nil
}

func (c *GitHubClient) FetchMetadata(ctx context.Context, repo review.RepositoryIdentifier, changeRequestID int64) (review.PRMetadata, error) {
	path := fmt.Sprintf("/repos/%s/pulls/%d", repo.OpaqueID, changeRequestID)
	resp, err := c.do(ctx, http.MethodGet, path, "application/vnd.github+json", nil)
	if err != nil {
		return review.PRMetadata{}, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, path); err != nil {
		return review.PRMetadata{}, err
	}

	var pr struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		User  struct {
			Login string `json:"login"`
		} `json:"user"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return review.PRMetadata{}, fmt.Errorf("decode pull request: %w", err)
	}

	meta := review.PRMetadata{
		Title:       pr.Title,
		Description: pr.Body,
		Author:      pr.User.Login,
	}
	for _, l := range pr.Labels {
		meta.Labels = append(meta.Labels, l.Name)
	}

	commits, err := c.listPullCommits(ctx, repo, changeRequestID)
	if err == nil {
		meta.Commits = commits
	}
	return meta, nil
}

func (c *GitHubClient) listPullCommits(ctx context.Context, repo review.RepositoryIdentifier, changeRequestID int64) ([]string, error) {
	path := fmt.Sprintf("/repos/%s/pulls/%d/commits?per_page=100", repo.OpaqueID, changeRequestID)
	resp, err := c.do(ctx, http.MethodGet, path, "application/vnd.github+json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, path); err != nil {
		return nil, err
	}

	var commits []struct {
		Commit struct {
			Message string `json:"message"`
		} `json:"commit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&commits); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(commits))
	for _, commit := range commits {
		msg := commit.Commit.Message
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		out = append(out, msg)
	}
	return out, nil
}

func (c *GitHubClient) FetchFile(ctx context.Context, repo review.RepositoryIdentifier, path string) (string, error) {
	apiPath := fmt.Sprintf("/repos/%s/contents/%s", repo.OpaqueID, escapePath(path))
	resp, err := c.do(ctx, http.MethodGet, apiPath, "application/vnd.github.raw+json", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, path); err != nil {
		return "", err
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (c *GitHubClient) ListDirectory(ctx context.Context, repo review.RepositoryIdentifier, dir string) ([]string, error) {
	if dir == "." {
		dir = ""
	}
	apiPath := fmt.Sprintf("/repos/%s/contents/%s", repo.OpaqueID, escapePath(dir))
	resp, err := c.do(ctx, http.MethodGet, apiPath, "application/vnd.github+json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, dir); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode directory listing: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type == "file" {
			files = append(files, e.Path)
		}
	}
	return files, nil
}

func (c *GitHubClient) ListRecentCommits(ctx context.Context, repo review.RepositoryIdentifier, q HistoryQuery) ([]CommitFiles, error) {
	since := time.Now().AddDate(0, 0, -q.WindowDays).UTC().Format(time.RFC3339)
	listPath := fmt.Sprintf("/repos/%s/commits?since=%s&per_page=%d", repo.OpaqueID, url.QueryEscape(since), min(q.MaxCommits, 100))
	resp, err := c.do(ctx, http.MethodGet, listPath, "application/vnd.github+json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, listPath); err != nil {
		return nil, err
	}

	var list []struct {
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}
	if len(list) > q.MaxCommits {
		list = list[:q.MaxCommits]
	}

	// One detail call per commit to learn touched files. Bounded by
	// MaxCommits; the enrichment deadline caps the whole walk.
	out := make([]CommitFiles, 0, len(list))
	for _, item := range list {
		cf, err := c.commitFiles(ctx, repo, item.SHA)
		if err != nil {
			return out, err
		}
		out = append(out, cf)
	}
	return out, nil
}

func (c *GitHubClient) commitFiles(ctx context.Context, repo review.RepositoryIdentifier, sha string) (CommitFiles, error) {
	path := fmt.Sprintf("/repos/%s/commits/%s", repo.OpaqueID, sha)
	resp, err := c.do(ctx, http.MethodGet, path, "application/vnd.github+json", nil)
	if err != nil {
		return CommitFiles{}, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, path); err != nil {
		return CommitFiles{}, err
	}

	var detail struct {
		Files []struct {
			Filename string `json:"filename"`
		} `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return CommitFiles{}, err
	}
	cf := CommitFiles{SHA: sha}
	for _, f := range detail.Files {
		cf.Files = append(cf.Files, f.Filename)
	}
	return cf, nil
}

func (c *GitHubClient) PublishComment(ctx context.Context, repo review.RepositoryIdentifier, changeRequestID int64, body string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d/comments", repo.OpaqueID, changeRequestID)
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, path, "application/vnd.github+json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp, path)
}
