// Package github implements the SourceControl port using the go-github library.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SourceControl = (*Client)(nil)

// Client implements the driven.SourceControl port using the go-github library.
// It authenticates with a single token; installation IDs are logged for
// correlation but do not change credentials.
type Client struct {
	gh *gh.Client
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{gh: client}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

// FetchChangedFiles lists every file touched by a pull request, following
// pagination.
func (c *Client) FetchChangedFiles(ctx context.Context, repoFullName string, prNumber int, installationID int64) ([]model.FileChange, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}
	changes := []model.FileChange{}

	for {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, fmt.Errorf("listing files for %s#%d (page %d): %w", repoFullName, prNumber, opts.Page, err)
		}

		logRateLimit(resp, fmt.Sprintf("%s#%d/files", repoFullName, prNumber), opts.Page, len(files), installationID)

		for _, f := range files {
			changes = append(changes, mapCommitFile(f))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return changes, nil
}

// ListRepositoryFiles returns every blob in the tree at ref as an added file.
func (c *Client) ListRepositoryFiles(ctx context.Context, repoFullName string, ref string, installationID int64) ([]model.FileChange, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	tree, resp, err := c.gh.Git.GetTree(ctx, owner, repo, ref, true)
	if err != nil {
		return nil, fmt.Errorf("fetching tree for %s@%s: %w", repoFullName, ref, err)
	}

	logRateLimit(resp, repoFullName+"/tree", 0, len(tree.Entries), installationID)

	if tree.GetTruncated() {
		slog.Warn("repository tree truncated, scanning partial file list",
			"repo", repoFullName,
			"ref", ref,
			"entries", len(tree.Entries),
		)
	}

	files := make([]model.FileChange, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		files = append(files, model.FileChange{Path: entry.GetPath(), Status: model.FileAdded})
	}

	return files, nil
}

// GetFileContent returns the decoded content of path at ref. Returns found=false
// if the path does not exist or is a directory.
func (c *Client) GetFileContent(ctx context.Context, repoFullName, path, ref string, installationID int64) (string, bool, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return "", false, err
	}

	opts := &gh.RepositoryContentGetOptions{Ref: ref}
	file, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fetching %s from %s@%s: %w", path, repoFullName, ref, err)
	}

	logRateLimit(resp, repoFullName+"/contents", 0, 1, installationID)

	if file == nil {
		return "", false, nil
	}

	content, err := file.GetContent()
	if err != nil {
		return "", false, fmt.Errorf("decoding %s from %s@%s: %w", path, repoFullName, ref, err)
	}

	return content, true, nil
}

// GetDefaultBranchHead resolves the commit SHA at the tip of the repository's
// default branch.
func (c *Client) GetDefaultBranchHead(ctx context.Context, repoFullName string, installationID int64) (string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return "", err
	}

	r, resp, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("fetching repository %s: %w", repoFullName, err)
	}

	logRateLimit(resp, repoFullName, 0, 1, installationID)

	branch := r.GetDefaultBranch()
	if branch == "" {
		return "", fmt.Errorf("repository %s has no default branch", repoFullName)
	}

	sha, resp, err := c.gh.Repositories.GetCommitSHA1(ctx, owner, repo, branch, "")
	if err != nil {
		return "", fmt.Errorf("resolving %s@%s: %w", repoFullName, branch, err)
	}

	logRateLimit(resp, repoFullName+"/commits", 0, 1, installationID)

	return sha, nil
}

// mapCommitFile converts a go-github CommitFile to a domain model FileChange.
// GitHub statuses other than added, removed and renamed count as modified.
func mapCommitFile(f *gh.CommitFile) model.FileChange {
	change := model.FileChange{Path: f.GetFilename()}

	switch f.GetStatus() {
	case "added":
		change.Status = model.FileAdded
	case "removed":
		change.Status = model.FileRemoved
	case "renamed":
		change.Status = model.FileRenamed
		change.PreviousPath = f.GetPreviousFilename()
	default:
		change.Status = model.FileModified
	}

	return change
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int, installationID int64) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"installation_id", installationID,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}

