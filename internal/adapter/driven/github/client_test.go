package github_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghAdapter "github.com/ericfisherdev/driftwatch/internal/adapter/driven/github"
	"github.com/ericfisherdev/driftwatch/internal/domain/model"
)

// newTestClient creates a Client backed by the given httptest handler.
func newTestClient(t *testing.T, handler http.Handler) *ghAdapter.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := ghAdapter.NewClientWithHTTPClient(server.Client(), server.URL+"/")
	require.NoError(t, err)

	return client
}

// commitFileJSON is a helper struct for building pull request file listings.
type commitFileJSON struct {
	Filename         string `json:"filename"`
	Status           string `json:"status"`
	PreviousFilename string `json:"previous_filename,omitempty"`
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestFetchChangedFiles_MapsStatuses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/owner/repo/pulls/7/files", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []commitFileJSON{
			{Filename: "README.md", Status: "modified"},
			{Filename: "main.go", Status: "added"},
			{Filename: "old.go", Status: "removed"},
			{Filename: "pkg/new.go", Status: "renamed", PreviousFilename: "pkg/old.go"},
			{Filename: "copy.go", Status: "copied"},
		})
	})

	client := newTestClient(t, mux)
	files, err := client.FetchChangedFiles(context.Background(), "owner/repo", 7, 99)
	require.NoError(t, err)

	assert.Equal(t, []model.FileChange{
		{Path: "README.md", Status: model.FileModified},
		{Path: "main.go", Status: model.FileAdded},
		{Path: "old.go", Status: model.FileRemoved},
		{Path: "pkg/new.go", PreviousPath: "pkg/old.go", Status: model.FileRenamed},
		{Path: "copy.go", Status: model.FileModified},
	}, files)
}

func TestFetchChangedFiles_Pagination(t *testing.T) {
	callCount := 0

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/owner/repo/pulls/7/files", func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if r.URL.Query().Get("page") == "" || r.URL.Query().Get("page") == "1" {
			// Page 1: include Link header pointing to page 2
			w.Header().Set("Link", fmt.Sprintf(`<%s?page=2>; rel="next"`, "http://"+r.Host+r.URL.Path))
			writeJSON(t, w, []commitFileJSON{{Filename: "a.go", Status: "modified"}})
			return
		}
		// Page 2: no Link header (last page)
		writeJSON(t, w, []commitFileJSON{{Filename: "b.go", Status: "modified"}})
	})

	client := newTestClient(t, mux)
	files, err := client.FetchChangedFiles(context.Background(), "owner/repo", 7, 0)
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, "a.go", files[0].Path)
	assert.Equal(t, "b.go", files[1].Path)
	assert.Equal(t, 2, callCount)
}

func TestFetchChangedFiles_InvalidRepo(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler())

	_, err := client.FetchChangedFiles(context.Background(), "not-a-repo", 7, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected owner/repo")
}

func TestFetchChangedFiles_ServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/owner/repo/pulls/7/files", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	client := newTestClient(t, mux)
	_, err := client.FetchChangedFiles(context.Background(), "owner/repo", 7, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing files for owner/repo#7")
}

func TestListRepositoryFiles_BlobsOnly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/owner/repo/git/trees/abc123", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		writeJSON(t, w, map[string]any{
			"sha": "abc123",
			"tree": []map[string]string{
				{"path": "README.md", "type": "blob"},
				{"path": "docs", "type": "tree"},
				{"path": "docs/setup.md", "type": "blob"},
				{"path": "vendor/lib", "type": "commit"},
			},
			"truncated": false,
		})
	})

	client := newTestClient(t, mux)
	files, err := client.ListRepositoryFiles(context.Background(), "owner/repo", "abc123", 0)
	require.NoError(t, err)

	assert.Equal(t, []model.FileChange{
		{Path: "README.md", Status: model.FileAdded},
		{Path: "docs/setup.md", Status: model.FileAdded},
	}, files)
}

func TestGetFileContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/owner/repo/contents/docs/setup.md", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc123", r.URL.Query().Get("ref"))
		writeJSON(t, w, map[string]string{
			"type":     "file",
			"path":     "docs/setup.md",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte("# Setup\nRun `make`.\n")),
		})
	})

	client := newTestClient(t, mux)
	content, found, err := client.GetFileContent(context.Background(), "owner/repo", "docs/setup.md", "abc123", 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "# Setup\nRun `make`.\n", content)
}

func TestGetFileContent_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/owner/repo/contents/missing.md", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(t, w, map[string]string{"message": "Not Found"})
	})

	client := newTestClient(t, mux)
	content, found, err := client.GetFileContent(context.Background(), "owner/repo", "missing.md", "abc123", 0)
	require.NoError(t, err, "a missing file is not an error")
	assert.False(t, found)
	assert.Empty(t, content)
}

func TestGetDefaultBranchHead(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/owner/repo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"full_name": "owner/repo", "default_branch": "trunk"})
	})
	mux.HandleFunc("GET /repos/owner/repo/commits/trunk", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("deadbeef"))
	})

	client := newTestClient(t, mux)
	sha, err := client.GetDefaultBranchHead(context.Background(), "owner/repo", 0)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", sha)
}

func TestGetDefaultBranchHead_NoDefaultBranch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/owner/repo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"full_name": "owner/repo"})
	})

	client := newTestClient(t, mux)
	_, err := client.GetDefaultBranchHead(context.Background(), "owner/repo", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no default branch")
}
