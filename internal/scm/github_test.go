package scm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpen-ai/redpen/internal/review"
)

func githubRepo() review.RepositoryIdentifier {
	return review.RepositoryIdentifier{Provider: review.ProviderGitHub, OpaqueID: "acme/api"}
}

func TestGitHubFetchFileKeepsPathSlashes(t *testing.T) {
	var gotURI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.URL.RequestURI()
		w.Write([]byte("# Contributing\n"))
	}))
	defer srv.Close()

	c := NewGitHubClient(srv.URL, "")
	body, err := c.FetchFile(context.Background(), githubRepo(), ".github/docs/CONTRIBUTING v2.md")
	require.NoError(t, err)
	assert.Equal(t, "# Contributing\n", body)

	// The contents API resolves nested paths only with literal slashes;
	// spaces and other reserved characters still get escaped.
	assert.Equal(t, "/repos/acme/api/contents/.github/docs/CONTRIBUTING%20v2.md", gotURI)
	assert.NotContains(t, gotURI, "%2F")
}

func TestGitHubListDirectoryKeepsFilesOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/api/contents/internal/enrich", r.URL.Path)
		w.Write([]byte(`[
			{"path": "internal/enrich/metadata.go", "type": "file"},
			{"path": "internal/enrich/testdata", "type": "dir"},
			{"path": "internal/enrich/pipeline.go", "type": "file"}
		]`))
	}))
	defer srv.Close()

	c := NewGitHubClient(srv.URL, "")
	files, err := c.ListDirectory(context.Background(), githubRepo(), "internal/enrich")
	require.NoError(t, err)
	assert.Equal(t, []string{"internal/enrich/metadata.go", "internal/enrich/pipeline.go"}, files)
}

func TestGitHubListDirectoryMissingIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewGitHubClient(srv.URL, "")
	files, err := c.ListDirectory(context.Background(), githubRepo(), "gone")
	require.NoError(t, err)
	assert.Empty(t, files)
}
