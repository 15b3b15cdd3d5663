// Package github provides GitHub App authentication, webhook handling, and
// the REST client used by the reviewer.
package github

import (
	"encoding/json"
	"fmt"
	"time"
)

// WebhookEvent represents a pull_request webhook event.
type WebhookEvent struct {
	Action       string        `json:"action"`
	Number       int           `json:"number"`
	PullRequest  *PullRequest  `json:"pull_request,omitempty"`
	Repository   *Repository   `json:"repository"`
	Installation *Installation `json:"installation"`
	Sender       *User         `json:"sender"`
}

// InstallationEvent represents an installation webhook event
// (app installed, uninstalled, or repositories changed).
type InstallationEvent struct {
	Action       string        `json:"action"` // created, deleted, suspend, unsuspend
	Installation *Installation `json:"installation"`
	Sender       *User         `json:"sender"`
}

// PullRequest represents a GitHub pull request.
type PullRequest struct {
	ID        int64  `json:"id"`
	Number    int    `json:"number"`
	State     string `json:"state"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Head      *Ref   `json:"head"`
	Base      *Ref   `json:"base"`
	User      *User  `json:"user"`
	HTMLURL   string `json:"html_url"`
	DiffURL   string `json:"diff_url"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Ref represents a git reference (branch/commit).
type Ref struct {
	Ref  string      `json:"ref"`
	SHA  string      `json:"sha"`
	Repo *Repository `json:"repo,omitempty"`
}

// Repository represents a GitHub repository.
type Repository struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Owner         *User  `json:"owner"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
}

// User represents a GitHub user or organization.
type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type"`
}

// Installation identifies a GitHub App installation in a webhook payload.
type Installation struct {
	ID      int64 `json:"id"`
	Account *User `json:"account,omitempty"`
}

// PullRequestFile represents a file changed in a pull request.
type PullRequestFile struct {
	SHA              string `json:"sha"`
	Filename         string `json:"filename"`
	Status           string `json:"status"` // added, removed, modified, renamed, copied, changed, unchanged
	Additions        int    `json:"additions"`
	Deletions        int    `json:"deletions"`
	Changes          int    `json:"changes"`
	Patch            string `json:"patch,omitempty"`
	PreviousFilename string `json:"previous_filename,omitempty"`
}

// Commit represents one commit in a pull request.
type Commit struct {
	SHA    string       `json:"sha"`
	Commit CommitDetail `json:"commit"`
}

// CommitDetail carries the git-level commit data.
type CommitDetail struct {
	Message string `json:"message"`
	Author  struct {
		Name string `json:"name"`
		Date string `json:"date"`
	} `json:"author"`
}

// ReviewComment is an inline comment attached to a review. Exactly one
// addressing scheme is used per comment: Position (index into the diff's
// hunk lines) or Line+Side (absolute new-file line number). MarshalJSON
// enforces the exclusivity; GitHub rejects requests carrying both.
type ReviewComment struct {
	Path     string
	Body     string
	Position int
	Line     int
	Side     string // LEFT or RIGHT, only with Line
}

// MarshalJSON emits either position or line+side, never both.
func (c ReviewComment) MarshalJSON() ([]byte, error) {
	if c.Position > 0 && c.Line > 0 {
		return nil, fmt.Errorf("review comment on %s has both position and line", c.Path)
	}

	type positional struct {
		Path     string `json:"path"`
		Body     string `json:"body"`
		Position int    `json:"position"`
	}
	type lineBased struct {
		Path string `json:"path"`
		Body string `json:"body"`
		Line int    `json:"line"`
		Side string `json:"side,omitempty"`
	}

	if c.Position > 0 {
		return json.Marshal(positional{Path: c.Path, Body: c.Body, Position: c.Position})
	}
	return json.Marshal(lineBased{Path: c.Path, Body: c.Body, Line: c.Line, Side: c.Side})
}

// ReviewRequest represents a request to create a pull request review.
type ReviewRequest struct {
	CommitID string          `json:"commit_id,omitempty"`
	Body     string          `json:"body"`
	Event    string          `json:"event"` // APPROVE, REQUEST_CHANGES, COMMENT
	Comments []ReviewComment `json:"comments,omitempty"`
}

// Review represents a pull request review response.
type Review struct {
	ID          int64     `json:"id"`
	NodeID      string    `json:"node_id"`
	User        *User     `json:"user"`
	Body        string    `json:"body"`
	State       string    `json:"state"` // PENDING, COMMENTED, APPROVED, CHANGES_REQUESTED, DISMISSED
	HTMLURL     string    `json:"html_url"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ReviewStatePending is the state of a review draft that was created but
// never finalized with an event.
const ReviewStatePending = "PENDING"

// FileContent represents the content of a file from the GitHub API.
type FileContent struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Size     int    `json:"size"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Content  string `json:"content"`
	SHA      string `json:"sha"`
}

// IssueCommentResponse represents a created issue comment.
type IssueCommentResponse struct {
	ID      int64  `json:"id"`
	HTMLURL string `json:"html_url"`
	Body    string `json:"body"`
	User    *User  `json:"user"`
}
