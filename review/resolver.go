package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/victoremeka/macrozero/github"
)

// Resolver clears out stale PENDING reviews before a new review is
// submitted. A pending review is a draft left behind when a previous run
// crashed between creating and submitting it; unresolved drafts block or
// confuse the next submission.
type Resolver struct {
	client *github.Client
	logger *slog.Logger
}

// NewResolver creates a pending-review resolver.
func NewResolver(client *github.Client, logger *slog.Logger) *Resolver {
	return &Resolver{client: client, logger: logger}
}

// ResolveStalePending lists the pull request's reviews and finalizes every
// PENDING one with the given event (normally COMMENT). Per-review failures
// are logged and skipped; the overall flow treats cleanup as best-effort,
// so callers report a returned error but proceed with submission. Running it
// again with no new pending reviews is a no-op.
func (r *Resolver) ResolveStalePending(ctx context.Context, installationID int64, owner, repo string, prNumber int, event string) (int, error) {
	reviews, err := r.client.ListPRReviews(ctx, installationID, owner, repo, prNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to list reviews: %w", err)
	}

	resolved := 0
	failed := 0
	for _, review := range reviews {
		if review.State != github.ReviewStatePending {
			continue
		}

		if err := r.client.SubmitReviewEvent(ctx, installationID, owner, repo, prNumber, review.ID, event); err != nil {
			failed++
			r.logger.Warn("failed to resolve pending review",
				"review_id", review.ID,
				"error", err,
			)
			continue
		}

		resolved++
		r.logger.Info("resolved stale pending review", "review_id", review.ID)
	}

	if failed > 0 {
		return resolved, fmt.Errorf("failed to resolve %d of %d pending reviews", failed, failed+resolved)
	}
	return resolved, nil
}
