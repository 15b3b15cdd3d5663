package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	baseURL = "https://api.github.com"

	apiVersion = "2022-11-28"
)

// Client performs GitHub REST calls authenticated with per-installation
// access tokens from the TokenCache. Every method takes the installation id
// explicitly; the client holds no per-request state and is safe for
// concurrent use.
type Client struct {
	httpClient *http.Client
	tokens     *TokenCache
	baseURL    string
}

// NewClient creates a GitHub API client backed by the given token cache.
func NewClient(tokens *TokenCache) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
		baseURL:    baseURL,
	}
}

// NewClientWithBaseURL creates a client that talks to a custom API base URL.
// Used by tests against a fake GitHub API.
func NewClientWithBaseURL(tokens *TokenCache, apiBase string) *Client {
	c := NewClient(tokens)
	c.baseURL = apiBase
	return c
}

// newRequest builds an authenticated request. Token acquisition happens here
// so every call path goes through the cache.
func (c *Client) newRequest(ctx context.Context, installationID int64, method, path, accept string, body io.Reader) (*http.Request, error) {
	token, err := c.tokens.Token(ctx, installationID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	return req, nil
}

// FetchDiff fetches the unified diff for a pull request.
func (c *Client) FetchDiff(ctx context.Context, installationID int64, owner, repo string, prNumber int) (string, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, prNumber)
	req, err := c.newRequest(ctx, installationID, "GET", path, "application/vnd.github.diff", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch diff: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed to fetch diff: status %d, body: %s", resp.StatusCode, string(body))
	}

	diff, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read diff: %w", err)
	}

	return string(diff), nil
}

// FetchCommitDiff fetches the unified diff for a single commit. Used when
// indexing a multi-commit pull request one commit at a time.
func (c *Client) FetchCommitDiff(ctx context.Context, installationID int64, owner, repo, sha string) (string, error) {
	path := fmt.Sprintf("/repos/%s/%s/commits/%s", owner, repo, sha)
	req, err := c.newRequest(ctx, installationID, "GET", path, "application/vnd.github.diff", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch commit diff: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed to fetch commit diff: status %d, body: %s", resp.StatusCode, string(body))
	}

	diff, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read commit diff: %w", err)
	}

	return string(diff), nil
}

// ListPRCommits fetches all commits for a pull request, following pagination.
func (c *Client) ListPRCommits(ctx context.Context, installationID int64, owner, repo string, prNumber int) ([]Commit, error) {
	var all []Commit
	const perPage = 100

	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("per_page", fmt.Sprintf("%d", perPage))
		params.Set("page", fmt.Sprintf("%d", page))

		path := fmt.Sprintf("/repos/%s/%s/pulls/%d/commits?%s", owner, repo, prNumber, params.Encode())
		req, err := c.newRequest(ctx, installationID, "GET", path, "application/vnd.github+json", nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch commits: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("failed to fetch commits: status %d, body: %s", resp.StatusCode, string(body))
		}

		var commits []Commit
		err = json.NewDecoder(resp.Body).Decode(&commits)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode commits: %w", err)
		}

		all = append(all, commits...)
		if len(commits) < perPage {
			return all, nil
		}
	}
}

// FetchPullRequestFiles fetches the list of files changed in a pull request.
func (c *Client) FetchPullRequestFiles(ctx context.Context, installationID int64, owner, repo string, prNumber int) ([]PullRequestFile, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/files", owner, repo, prNumber)
	req, err := c.newRequest(ctx, installationID, "GET", path, "application/vnd.github+json", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch files: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to fetch files: status %d, body: %s", resp.StatusCode, string(body))
	}

	var files []PullRequestFile
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("failed to decode files: %w", err)
	}

	return files, nil
}

// FetchFileContent fetches the content of a file from a repository.
// Returns an empty string if the file does not exist.
func (c *Client) FetchFileContent(ctx context.Context, installationID int64, owner, repo, path, ref string) (string, error) {
	apiPath := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", owner, repo, path, url.QueryEscape(ref))
	req, err := c.newRequest(ctx, installationID, "GET", apiPath, "application/vnd.github+json", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed to fetch file: status %d, body: %s", resp.StatusCode, string(body))
	}

	var content FileContent
	if err := json.NewDecoder(resp.Body).Decode(&content); err != nil {
		return "", fmt.Errorf("failed to decode file content: %w", err)
	}

	if content.Encoding != "base64" {
		return "", fmt.Errorf("unsupported encoding: %s", content.Encoding)
	}

	// The contents API wraps base64 with newlines.
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 content: %w", err)
	}

	return string(decoded), nil
}

// CreateReview posts a review on a pull request.
func (c *Client) CreateReview(ctx context.Context, installationID int64, owner, repo string, prNumber int, review *ReviewRequest) (*Review, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", owner, repo, prNumber)

	body, err := json.Marshal(review)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal review: %w", err)
	}

	req, err := c.newRequest(ctx, installationID, "POST", path, "application/vnd.github+json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create review: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to create review: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var createdReview Review
	if err := json.NewDecoder(resp.Body).Decode(&createdReview); err != nil {
		return nil, fmt.Errorf("failed to decode review response: %w", err)
	}

	return &createdReview, nil
}

// ListPRReviews fetches all reviews for a pull request.
func (c *Client) ListPRReviews(ctx context.Context, installationID int64, owner, repo string, prNumber int) ([]Review, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", owner, repo, prNumber)
	req, err := c.newRequest(ctx, installationID, "GET", path, "application/vnd.github+json", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reviews: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to fetch reviews: status %d, body: %s", resp.StatusCode, string(body))
	}

	var reviews []Review
	if err := json.NewDecoder(resp.Body).Decode(&reviews); err != nil {
		return nil, fmt.Errorf("failed to decode reviews: %w", err)
	}

	return reviews, nil
}

// SubmitReviewEvent finalizes a review with an event (APPROVE,
// REQUEST_CHANGES, COMMENT). This is how a stale PENDING draft is closed out.
func (c *Client) SubmitReviewEvent(ctx context.Context, installationID int64, owner, repo string, prNumber int, reviewID int64, event string) error {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews/%d/events", owner, repo, prNumber, reviewID)

	body, err := json.Marshal(map[string]string{"event": event})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := c.newRequest(ctx, installationID, "POST", path, "application/vnd.github+json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to submit review event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to submit review event: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// CreateIssueComment posts a comment on a PR (via the issues API). Used for
// summary-only fallbacks when inline comments cannot be placed.
func (c *Client) CreateIssueComment(ctx context.Context, installationID int64, owner, repo string, prNumber int, body string) (*IssueCommentResponse, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, prNumber)

	reqBody, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal comment: %w", err)
	}

	req, err := c.newRequest(ctx, installationID, "POST", path, "application/vnd.github+json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to create comment: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var comment IssueCommentResponse
	if err := json.NewDecoder(resp.Body).Decode(&comment); err != nil {
		return nil, fmt.Errorf("failed to decode comment response: %w", err)
	}

	return &comment, nil
}
