// Package postgres provides a PostgreSQL implementation of the storage
// interface.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/victoremeka/macrozero/storage"
)

// PostgreSQL provides storage operations using PostgreSQL.
type PostgreSQL struct {
	db *sql.DB
}

// New creates a new PostgreSQL storage instance.
func New(db *sql.DB) *PostgreSQL {
	return &PostgreSQL{db: db}
}

// NewFromDSN creates a new PostgreSQL storage instance from a connection string.
func NewFromDSN(dsn string) (*PostgreSQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &PostgreSQL{db: db}, nil
}

// Close closes the database connection.
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}

// Migrate creates the required database tables.
func (p *PostgreSQL) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS installations (
			installation_id BIGINT PRIMARY KEY,
			account_id BIGINT,
			org_login TEXT NOT NULL,
			installed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS repositories (
			github_id BIGINT PRIMARY KEY,
			installation_id BIGINT NOT NULL REFERENCES installations(installation_id),
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			default_branch TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS pull_requests (
			repo_github_id BIGINT NOT NULL REFERENCES repositories(github_id),
			number INTEGER NOT NULL,
			state TEXT NOT NULL,
			title TEXT,
			head_sha TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (repo_github_id, number)
		);

		CREATE TABLE IF NOT EXISTS reviews (
			id SERIAL PRIMARY KEY,
			installation_id BIGINT NOT NULL,
			owner TEXT NOT NULL,
			repo TEXT NOT NULL,
			pr_number INTEGER NOT NULL,
			review_id BIGINT NOT NULL,
			review_body TEXT,
			comments JSONB,
			usage JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(installation_id, owner, repo, pr_number, review_id)
		);

		CREATE INDEX IF NOT EXISTS idx_reviews_pr ON reviews(installation_id, owner, repo, pr_number);
	`

	_, err := p.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// SaveInstallation inserts or updates an installation record.
func (p *PostgreSQL) SaveInstallation(ctx context.Context, install *storage.Installation) error {
	query := `
		INSERT INTO installations (installation_id, account_id, org_login, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (installation_id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			org_login = EXCLUDED.org_login,
			updated_at = NOW()
	`
	_, err := p.db.ExecContext(ctx, query, install.InstallationID, install.AccountID, install.OrgLogin)
	if err != nil {
		return fmt.Errorf("failed to save installation: %w", err)
	}
	return nil
}

// GetInstallation fetches an installation by id. Returns nil if not found.
func (p *PostgreSQL) GetInstallation(ctx context.Context, installationID int64) (*storage.Installation, error) {
	query := `
		SELECT installation_id, COALESCE(account_id, 0), org_login, installed_at::TEXT
		FROM installations
		WHERE installation_id = $1
	`
	install := &storage.Installation{}
	err := p.db.QueryRowContext(ctx, query, installationID).Scan(
		&install.InstallationID,
		&install.AccountID,
		&install.OrgLogin,
		&install.InstalledAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get installation: %w", err)
	}
	return install, nil
}

// UpsertRepository inserts or updates a repository record.
func (p *PostgreSQL) UpsertRepository(ctx context.Context, repo *storage.Repository) error {
	query := `
		INSERT INTO repositories (github_id, installation_id, owner, name, default_branch, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (github_id) DO UPDATE SET
			installation_id = EXCLUDED.installation_id,
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			default_branch = EXCLUDED.default_branch,
			updated_at = NOW()
	`
	_, err := p.db.ExecContext(ctx, query, repo.GitHubID, repo.InstallationID, repo.Owner, repo.Name, repo.DefaultBranch)
	if err != nil {
		return fmt.Errorf("failed to upsert repository: %w", err)
	}
	return nil
}

// UpsertPullRequest inserts or updates a pull request record.
func (p *PostgreSQL) UpsertPullRequest(ctx context.Context, pr *storage.PullRequest) error {
	query := `
		INSERT INTO pull_requests (repo_github_id, number, state, title, head_sha, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (repo_github_id, number) DO UPDATE SET
			state = EXCLUDED.state,
			title = EXCLUDED.title,
			head_sha = EXCLUDED.head_sha,
			updated_at = NOW()
	`
	_, err := p.db.ExecContext(ctx, query, pr.RepoGitHubID, pr.Number, pr.State, pr.Title, pr.HeadSHA)
	if err != nil {
		return fmt.Errorf("failed to upsert pull request: %w", err)
	}
	return nil
}

// StoreReview stores a review record.
func (p *PostgreSQL) StoreReview(ctx context.Context, review *storage.ReviewRecord) error {
	comments, err := json.Marshal(review.Comments)
	if err != nil {
		return fmt.Errorf("failed to marshal comments: %w", err)
	}

	var usage []byte
	if review.Usage != nil {
		usage, err = json.Marshal(review.Usage)
		if err != nil {
			return fmt.Errorf("failed to marshal usage: %w", err)
		}
	}

	query := `
		INSERT INTO reviews (installation_id, owner, repo, pr_number, review_id, review_body, comments, usage, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (installation_id, owner, repo, pr_number, review_id) DO UPDATE SET
			review_body = EXCLUDED.review_body,
			comments = EXCLUDED.comments,
			usage = EXCLUDED.usage
	`
	_, err = p.db.ExecContext(ctx, query,
		review.InstallationID, review.Owner, review.Repo, review.PRNumber,
		review.ReviewID, review.ReviewBody, comments, nullableJSON(usage))
	if err != nil {
		return fmt.Errorf("failed to store review: %w", err)
	}
	return nil
}

// ListReviewsForPR fetches all stored reviews for a pull request, oldest first.
func (p *PostgreSQL) ListReviewsForPR(ctx context.Context, installationID int64, owner, repo string, prNumber int) ([]*storage.ReviewRecord, error) {
	query := `
		SELECT installation_id, owner, repo, pr_number, review_id, COALESCE(review_body, ''), comments, usage, created_at::TEXT
		FROM reviews
		WHERE installation_id = $1 AND owner = $2 AND repo = $3 AND pr_number = $4
		ORDER BY created_at ASC
	`
	rows, err := p.db.QueryContext(ctx, query, installationID, owner, repo, prNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*storage.ReviewRecord
	for rows.Next() {
		review := &storage.ReviewRecord{}
		var comments, usage []byte
		if err := rows.Scan(
			&review.InstallationID, &review.Owner, &review.Repo, &review.PRNumber,
			&review.ReviewID, &review.ReviewBody, &comments, &usage, &review.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}

		if len(comments) > 0 {
			if err := json.Unmarshal(comments, &review.Comments); err != nil {
				return nil, fmt.Errorf("failed to unmarshal comments: %w", err)
			}
		}
		if len(usage) > 0 {
			review.Usage = &storage.TokenUsage{}
			if err := json.Unmarshal(usage, review.Usage); err != nil {
				return nil, fmt.Errorf("failed to unmarshal usage: %w", err)
			}
		}

		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reviews: %w", err)
	}

	return reviews, nil
}

// nullableJSON converts empty JSON bytes to a SQL NULL.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
