package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/victoremeka/macrozero/config"
	"github.com/victoremeka/macrozero/diff"
	"github.com/victoremeka/macrozero/github"
	"github.com/victoremeka/macrozero/storage"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultModel is the Claude model used for code reviews.
	DefaultModel = "claude-sonnet-4-20250514"

	// ClaudeAPITimeout is the maximum time to wait for a Claude API response.
	ClaudeAPITimeout = 3 * time.Minute

	// MaxConcurrentCommitDiffs limits how many per-commit diffs are fetched
	// in parallel for multi-commit pull requests.
	MaxConcurrentCommitDiffs = 4

	// MaxReviewFiles is the largest pull request the reviewer will take on.
	// Beyond this GitHub truncates the diff anyway and positions stop
	// matching what the API accepts.
	MaxReviewFiles = 150

	// MaxRetries is the number of times to retry transient API failures.
	MaxRetries = 3

	// RetryBaseDelay is the initial delay between retries (doubles each attempt).
	RetryBaseDelay = 1 * time.Second
)

// isRetryableError checks if an error is transient and worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// Retry on rate limits, server errors, and network issues
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		errors.Is(err, context.DeadlineExceeded)
}

// retryWithBackoff executes fn with exponential backoff on retryable errors.
func retryWithBackoff[T any](ctx context.Context, logger *slog.Logger, operation string, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}

		if !isRetryableError(lastErr) {
			return result, lastErr
		}

		if attempt < MaxRetries {
			delay := RetryBaseDelay * time.Duration(1<<attempt)
			logger.Warn("retrying after transient error",
				"operation", operation,
				"attempt", attempt+1,
				"max_attempts", MaxRetries+1,
				"delay", delay,
				"error", lastErr,
			)

			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return result, fmt.Errorf("max retries exceeded for %s: %w", operation, lastErr)
}

// Reviewer orchestrates the code review process.
type Reviewer struct {
	githubClient *github.Client
	configLoader *config.Loader
	resolver     *Resolver
	storage      storage.Storage
	apiKey       string
	model        string
	logger       *slog.Logger
}

// NewReviewer creates a new Reviewer instance.
func NewReviewer(githubClient *github.Client, apiKey string, store storage.Storage, logger *slog.Logger) *Reviewer {
	return &Reviewer{
		githubClient: githubClient,
		configLoader: config.NewLoader(githubClient),
		resolver:     NewResolver(githubClient, logger),
		storage:      store,
		apiKey:       apiKey,
		model:        DefaultModel,
		logger:       logger,
	}
}

// SetModel overrides the default Claude model used for reviews.
func (r *Reviewer) SetModel(model string) {
	r.model = model
}

// ReviewInput contains the information needed to review a pull request.
type ReviewInput struct {
	InstallationID int64
	Owner          string
	Repo           string
	PRNumber       int
	PRTitle        string
	PRBody         string
	HeadSHA        string
	DefaultBranch  string
}

// ReviewResult contains the result of a review.
type ReviewResult struct {
	ReviewID     int64
	ReviewURL    string
	Summary      string
	CommentCount int
	Approval     string
	Usage        *storage.TokenUsage
}

// modelResponse holds the raw text and token usage from a model call.
type modelResponse struct {
	Text  string
	Usage *storage.TokenUsage
}

// Review performs a code review on a pull request. Comments are addressed
// by diff position; if the fetched diff cannot be indexed, the review
// degrades to a summary-only issue comment.
func (r *Reviewer) Review(ctx context.Context, input *ReviewInput) (*ReviewResult, error) {
	logger := r.logger
	if id, ok := github.InstallationFromContext(ctx); ok {
		logger = logger.With("installation_id", id)
	}

	logger.Info("starting review",
		"owner", input.Owner,
		"repo", input.Repo,
		"pr", input.PRNumber,
	)

	cfg, err := r.configLoader.Load(ctx, input.InstallationID, input.Owner, input.Repo, input.DefaultBranch)
	if err != nil {
		var parseErr *config.ConfigParseError
		if errors.As(err, &parseErr) {
			// An invalid config file is a user error that should be surfaced
			logger.Error("invalid config file, cannot proceed with review",
				"path", parseErr.Path,
				"error", parseErr.Err,
			)
			return nil, fmt.Errorf("invalid config file %s: %w", parseErr.Path, parseErr.Err)
		}
		logger.Warn("failed to load config, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	if !cfg.ShouldReviewOnEvent() {
		logger.Info("review skipped due to config",
			"enabled", cfg.Enabled,
			"trigger", cfg.Trigger,
		)
		return nil, nil
	}

	files, err := r.githubClient.FetchPullRequestFiles(ctx, input.InstallationID, input.Owner, input.Repo, input.PRNumber)
	if err != nil {
		logger.Warn("failed to list changed files, skipping size check", "error", err)
	} else if len(files) > MaxReviewFiles {
		logger.Info("pull request too large to review", "files", len(files), "limit", MaxReviewFiles)
		body := fmt.Sprintf("This pull request changes %d files, which is more than I can review reliably (limit %d). Consider splitting it up.", len(files), MaxReviewFiles)
		if _, err := r.githubClient.CreateIssueComment(ctx, input.InstallationID, input.Owner, input.Repo, input.PRNumber, body); err != nil {
			logger.Error("failed to post size notice", "error", err)
		}
		return nil, nil
	}

	diffText, err := r.githubClient.FetchDiff(ctx, input.InstallationID, input.Owner, input.Repo, input.PRNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch diff: %w", err)
	}

	logger.Info("fetched diff", "size", len(diffText))

	if len(cfg.Exclude) > 0 {
		diffText = filterDiff(diffText, cfg)
		logger.Info("filtered diff", "size", len(diffText), "exclude_patterns", cfg.Exclude)
	}

	if strings.TrimSpace(diffText) == "" {
		logger.Info("nothing to review after filtering")
		return nil, nil
	}

	var index diff.Index
	parsed, err := diff.Parse(diffText)
	if err != nil {
		logger.Warn("diff could not be indexed, falling back to summary-only review", "error", err)
	} else {
		index = parsed.PositionIndex()
	}

	commits, err := r.githubClient.ListPRCommits(ctx, input.InstallationID, input.Owner, input.Repo, input.PRNumber)
	if err != nil {
		logger.Warn("failed to list commits, reviewing without commit log", "error", err)
		commits = nil
	}

	var commitFiles map[string]int
	if len(commits) >= 2 {
		commitFiles = r.indexCommitDiffs(ctx, input, commits)
	}

	prompt := BuildPrompt(input.PRTitle, input.PRBody, commits, commitFiles, diffText)
	resp, err := r.callModel(ctx, prompt, GetSystemPrompt(cfg.Instructions))
	if err != nil {
		return nil, fmt.Errorf("failed to get model review: %w", err)
	}

	review, err := ParseResponse(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}

	logger.Info("parsed model response",
		"summary", review.Summary,
		"comments", len(review.Comments),
		"approval", review.Approval,
	)

	if index == nil {
		return r.postSummaryOnly(ctx, input, review, resp.Usage)
	}

	var dropped int
	review.Comments, dropped = FilterValidComments(review.Comments, index, logger)
	if dropped > 0 {
		logger.Warn("dropped comments with positions outside the diff", "count", dropped)
	}

	// Best-effort: finalize any pending review a crashed run left behind,
	// so the new submission is not blocked by a stale draft.
	if resolved, err := r.resolver.ResolveStalePending(ctx, input.InstallationID, input.Owner, input.Repo, input.PRNumber, "COMMENT"); err != nil {
		logger.Warn("pending review cleanup incomplete", "resolved", resolved, "error", err)
	} else if resolved > 0 {
		logger.Info("resolved stale pending reviews", "count", resolved)
	}

	reviewReq, err := ToReviewRequest(review, input.HeadSHA)
	if err != nil {
		return nil, fmt.Errorf("failed to build review request: %w", err)
	}

	// Not retried: a failed POST may still have been applied server-side.
	posted, err := r.githubClient.CreateReview(ctx, input.InstallationID, input.Owner, input.Repo, input.PRNumber, reviewReq)
	if err != nil {
		return nil, fmt.Errorf("failed to post review: %w", err)
	}

	logger.Info("posted review", "review_id", posted.ID, "url", posted.HTMLURL)

	r.storeReview(ctx, input, posted.ID, review, resp.Usage)

	return &ReviewResult{
		ReviewID:     posted.ID,
		ReviewURL:    posted.HTMLURL,
		Summary:      review.Summary,
		CommentCount: len(review.Comments),
		Approval:     review.Approval,
		Usage:        resp.Usage,
	}, nil
}

// postSummaryOnly posts the review summary as a plain issue comment. Used
// when the diff could not be indexed and inline positions cannot be trusted.
func (r *Reviewer) postSummaryOnly(ctx context.Context, input *ReviewInput, review *AgentResponse, usage *storage.TokenUsage) (*ReviewResult, error) {
	if review.Summary == "" {
		return nil, nil
	}

	if _, err := r.githubClient.CreateIssueComment(ctx, input.InstallationID, input.Owner, input.Repo, input.PRNumber, review.Summary); err != nil {
		return nil, fmt.Errorf("failed to post summary comment: %w", err)
	}

	r.logger.Info("posted summary-only review", "pr", input.PRNumber)

	r.storeReview(ctx, input, 0, &AgentResponse{Summary: review.Summary, Approval: review.Approval}, usage)

	return &ReviewResult{
		Summary:  review.Summary,
		Approval: review.Approval,
		Usage:    usage,
	}, nil
}

// storeReview persists the review outcome. Storage failures never fail the
// review itself.
func (r *Reviewer) storeReview(ctx context.Context, input *ReviewInput, reviewID int64, review *AgentResponse, usage *storage.TokenUsage) {
	if r.storage == nil {
		return
	}

	record := &storage.ReviewRecord{
		InstallationID: input.InstallationID,
		Owner:          input.Owner,
		Repo:           input.Repo,
		PRNumber:       input.PRNumber,
		ReviewID:       reviewID,
		ReviewBody:     review.Summary,
		Comments:       toStorageComments(review.Comments),
		Usage:          usage,
	}

	if err := r.storage.StoreReview(ctx, record); err != nil {
		r.logger.Error("failed to store review record", "error", err)
	}
}

// indexCommitDiffs fetches and indexes each commit's diff in parallel to
// report how many files every commit touched. Failures are per-commit and
// only cost the commit its file count in the prompt.
func (r *Reviewer) indexCommitDiffs(ctx context.Context, input *ReviewInput, commits []github.Commit) map[string]int {
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(MaxConcurrentCommitDiffs)
	counts := make([]int, len(commits))

	for i, commit := range commits {
		i, commit := i, commit
		counts[i] = -1
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			commitDiff, err := r.githubClient.FetchCommitDiff(gctx, input.InstallationID, input.Owner, input.Repo, commit.SHA)
			if err != nil {
				r.logger.Warn("failed to fetch commit diff", "sha", commit.SHA, "error", err)
				return nil
			}

			parsed, err := diff.Parse(commitDiff)
			if err != nil {
				r.logger.Warn("failed to index commit diff", "sha", commit.SHA, "error", err)
				return nil
			}

			counts[i] = len(parsed.Files)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Warn("commit diff indexing interrupted", "error", err)
	}

	files := make(map[string]int, len(commits))
	for i, commit := range commits {
		if counts[i] >= 0 {
			files[commit.SHA] = counts[i]
		}
	}
	return files
}

// callModel sends the review request to the Anthropic API.
func (r *Reviewer) callModel(ctx context.Context, prompt, system string) (*modelResponse, error) {
	client := anthropic.NewClient(option.WithAPIKey(r.apiKey))

	timeoutCtx, cancel := context.WithTimeout(ctx, ClaudeAPITimeout)
	defer cancel()

	message, err := retryWithBackoff(timeoutCtx, r.logger, "callModel", func() (*anthropic.Message, error) {
		return client.Messages.New(timeoutCtx, anthropic.MessageNewParams{
			Model:     anthropic.F(anthropic.Model(r.model)),
			MaxTokens: anthropic.F(int64(4096)),
			System: anthropic.F([]anthropic.TextBlockParam{
				anthropic.NewTextBlock(system),
			}),
			Messages: anthropic.F([]anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			}),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("Claude API error: %w", err)
	}

	usage := &storage.TokenUsage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}
	r.logger.Info("Claude API usage",
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)

	for _, block := range message.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			return &modelResponse{Text: block.Text, Usage: usage}, nil
		}
	}

	return nil, fmt.Errorf("no text content in model response")
}

// toStorageComments converts model comments to storage comments.
func toStorageComments(comments []AgentComment) []storage.Comment {
	result := make([]storage.Comment, len(comments))
	for i, c := range comments {
		result[i] = storage.Comment{
			Path:     c.Path,
			Position: c.Position,
			Body:     c.Body,
		}
	}
	return result
}

// filterDiff removes files matching exclude patterns from the diff.
func filterDiff(diffText string, cfg *config.Config) string {
	var kept []diff.FilePatch
	for _, p := range diff.SplitByFile(diffText) {
		if !cfg.ShouldExcludeFile(p.Path) {
			kept = append(kept, p)
		}
	}
	return diff.Join(kept)
}
