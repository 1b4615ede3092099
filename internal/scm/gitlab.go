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

// GitLabClient talks to the GitLab REST API v4. The repository opaque id is
// either a numeric project id or a URL-encodable "group/project" path.
type GitLabClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewGitLabClient(baseURL, token string) *GitLabClient {
	if baseURL == "" {
		baseURL = "https://gitlab.com/api/v4"
	}
	return &GitLabClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *GitLabClient) project(repo review.RepositoryIdentifier) string {
	return url.PathEscape(repo.OpaqueID)
}

func (c *GitLabClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("PRIVATE-TOKEN", c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func (c *GitLabClient) FetchDiff(ctx context.Context, repo review.RepositoryIdentifier, changeRequestID int64) (string, error) {
	path := fmt.Sprintf("/projects/%s/merge_requests/%d/changes", c.project(repo), changeRequestID)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", review.ErrDiffFetchFailed, err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, path); err != nil {
		return "", fmt.Errorf("%w: %v", review.ErrDiffFetchFailed, err)
	}

	var changes struct {
		Changes []struct {
			OldPath string `json:"old_path"`
			NewPath string `json:"new_path"`
			Diff    string `json:"diff"`
		} `json:"changes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&changes); err != nil {
		return "", fmt.Errorf("%w: decode changes: %v", review.ErrDiffFetchFailed, err)
	}

	// GitLab returns per-file fragments without ---/+++ headers; stitch
	// them back into standard unified diff text.
	var b strings.Builder
	for _, ch := range changes.Changes {
		fmt.Fprintf(&b, "--- a/%s\n", ch.OldPath)
		fmt.Fprintf(&b, "+++ b/%s\n", ch.NewPath)
		b.WriteString(ch.Diff)
		if !strings.HasSuffix(ch.Diff, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

func (c *GitLabClient) FetchMetadata(ctx context.Context, repo review.RepositoryIdentifier, changeRequestID int64) (review.PRMetadata, error) {
	path := fmt.Sprintf("/projects/%s/merge_requests/%d", c.project(repo), changeRequestID)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return review.PRMetadata{}, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, path); err != nil {
		return review.PRMetadata{}, err
	}

	var mr struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Author      struct {
			Username string `json:"username"`
		} `json:"author"`
		Labels []string `json:"labels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return review.PRMetadata{}, fmt.Errorf("decode merge request: %w", err)
	}

	meta := review.PRMetadata{
		Title:       mr.Title,
		Description: mr.Description,
		Author:      mr.Author.Username,
		Labels:      mr.Labels,
	}

	commits, err := c.listMergeRequestCommits(ctx, repo, changeRequestID)
	if err == nil {
		meta.Commits = commits
	}
	return meta, nil
}

func (c *GitLabClient) listMergeRequestCommits(ctx context.Context, repo review.RepositoryIdentifier, changeRequestID int64) ([]string, error) {
	path := fmt.Sprintf("/projects/%s/merge_requests/%d/commits", c.project(repo), changeRequestID)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, path); err != nil {
		return nil, err
	}

	var commits []struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&commits); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(commits))
	for _, commit := range commits {
		out = append(out, commit.Title)
	}
	return out, nil
}

func (c *GitLabClient) FetchFile(ctx context.Context, repo review.RepositoryIdentifier, path string) (string, error) {
	apiPath := fmt.Sprintf("/projects/%s/repository/files/%s/raw", c.project(repo), url.PathEscape(path))
	resp, err := c.do(ctx, http.MethodGet, apiPath, nil)
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

func (c *GitLabClient) ListDirectory(ctx context.Context, repo review.RepositoryIdentifier, dir string) ([]string, error) {
	if dir == "." {
		dir = ""
	}
	apiPath := fmt.Sprintf("/projects/%s/repository/tree?path=%s&per_page=100", c.project(repo), url.QueryEscape(dir))
	resp, err := c.do(ctx, http.MethodGet, apiPath, nil)
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
		return nil, fmt.Errorf("decode repository tree: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type == "blob" {
			files = append(files, e.Path)
		}
	}
	return files, nil
}

func (c *GitLabClient) ListRecentCommits(ctx context.Context, repo review.RepositoryIdentifier, q HistoryQuery) ([]CommitFiles, error) {
	since := time.Now().AddDate(0, 0, -q.WindowDays).UTC().Format(time.RFC3339)
	listPath := fmt.Sprintf("/projects/%s/repository/commits?since=%s&per_page=%d", c.project(repo), url.QueryEscape(since), min(q.MaxCommits, 100))
	resp, err := c.do(ctx, http.MethodGet, listPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, listPath); err != nil {
		return nil, err
	}

	var list []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}
	if len(list) > q.MaxCommits {
		list = list[:q.MaxCommits]
	}

	out := make([]CommitFiles, 0, len(list))
	for _, item := range list {
		cf, err := c.commitFiles(ctx, repo, item.ID)
		if err != nil {
			return out, err
		}
		out = append(out, cf)
	}
	return out, nil
}

func (c *GitLabClient) commitFiles(ctx context.Context, repo review.RepositoryIdentifier, sha string) (CommitFiles, error) {
	path := fmt.Sprintf("/projects/%s/repository/commits/%s/diff", c.project(repo), sha)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return CommitFiles{}, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, path); err != nil {
		return CommitFiles{}, err
	}

	var diffs []struct {
		NewPath string `json:"new_path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&diffs); err != nil {
		return CommitFiles{}, err
	}
	cf := CommitFiles{SHA: sha}
	for _, d := range diffs {
		cf.Files = append(cf.Files, d.NewPath)
	}
	return cf, nil
}

func (c *GitLabClient) PublishComment(ctx context.Context, repo review.RepositoryIdentifier, changeRequestID int64, body string) error {
	path := fmt.Sprintf("/projects/%s/merge_requests/%d/notes", c.project(repo), changeRequestID)
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp, path)
}
