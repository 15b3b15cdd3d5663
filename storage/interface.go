// Package storage defines the persistence interface for the reviewer.
package storage

import (
	"context"
)

// Storage defines the interface for persistence backends.
// Implementations must be safe for concurrent use by multiple goroutines.
type Storage interface {
	// Installation operations
	SaveInstallation(ctx context.Context, install *Installation) error
	GetInstallation(ctx context.Context, installationID int64) (*Installation, error)

	// Relational upserts for webhook bookkeeping
	UpsertRepository(ctx context.Context, repo *Repository) error
	UpsertPullRequest(ctx context.Context, pr *PullRequest) error

	// Review operations
	StoreReview(ctx context.Context, review *ReviewRecord) error
	ListReviewsForPR(ctx context.Context, installationID int64, owner, repo string, prNumber int) ([]*ReviewRecord, error)
}
