package storage

// Installation represents a GitHub App installation.
type Installation struct {
	InstallationID int64  `json:"installation_id"`
	AccountID      int64  `json:"account_id,omitempty"`
	OrgLogin       string `json:"org_login"`
	InstalledAt    string `json:"installed_at"`
}

// Repository represents a repository the app has seen webhooks for.
type Repository struct {
	GitHubID       int64  `json:"github_id"`
	InstallationID int64  `json:"installation_id"`
	Owner          string `json:"owner"`
	Name           string `json:"name"`
	DefaultBranch  string `json:"default_branch"`
}

// PullRequest represents a pull request tracked across review runs.
type PullRequest struct {
	RepoGitHubID int64  `json:"repo_github_id"`
	Number       int    `json:"number"`
	State        string `json:"state"` // open, closed, merged
	Title        string `json:"title"`
	HeadSHA      string `json:"head_sha"`
}

// Comment represents a review comment for storage.
type Comment struct {
	Path     string `json:"path"`
	Position int    `json:"position"`
	Body     string `json:"body"`
}

// TokenUsage represents model API token usage for a single call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// ReviewRecord is the stored result of one review run.
type ReviewRecord struct {
	InstallationID int64       `json:"installation_id"`
	Owner          string      `json:"owner"`
	Repo           string      `json:"repo"`
	PRNumber       int         `json:"pr_number"`
	ReviewID       int64       `json:"review_id"`
	ReviewBody     string      `json:"review_body"`
	Comments       []Comment   `json:"comments"`
	CreatedAt      string      `json:"created_at"`
	Usage          *TokenUsage `json:"usage,omitempty"`
}
