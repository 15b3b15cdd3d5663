// Package main provides the macrozero webhook server.
//
// Configuration via environment variables:
//
//	GITHUB_APP_ID         - GitHub App ID (required)
//	GITHUB_WEBHOOK_SECRET - Webhook signature verification secret (required)
//	GITHUB_PRIVATE_KEY    - GitHub App private key in PEM format (required)
//	ANTHROPIC_API_KEY     - Anthropic API key for Claude (required)
//	DATABASE_URL          - PostgreSQL connection string (required)
//	PORT                  - HTTP server port (default: 8080)
//	MACROZERO_MODEL       - Claude model override (optional)
//
// Usage:
//
//	go run cmd/server/main.go
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/victoremeka/macrozero/anthropic"
	"github.com/victoremeka/macrozero/github"
	"github.com/victoremeka/macrozero/review"
	"github.com/victoremeka/macrozero/storage"
	"github.com/victoremeka/macrozero/storage/postgres"
)

var (
	logger         *slog.Logger
	webhookHandler *github.WebhookHandler
	reviewer       *review.Reviewer
	pgStorage      *postgres.PostgreSQL
)

func main() {
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := initialize(); err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer pgStorage.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/github", handleWebhook)
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/", handleRoot)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 600 * time.Second, // Long timeout for Claude API calls
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

func initialize() error {
	webhookSecret := os.Getenv("GITHUB_WEBHOOK_SECRET")
	if webhookSecret == "" {
		return fmt.Errorf("GITHUB_WEBHOOK_SECRET is required")
	}

	privateKey := os.Getenv("GITHUB_PRIVATE_KEY")
	if privateKey == "" {
		return fmt.Errorf("GITHUB_PRIVATE_KEY is required")
	}

	claudeAPIKey := os.Getenv("ANTHROPIC_API_KEY")
	if claudeAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}

	appIDStr := os.Getenv("GITHUB_APP_ID")
	if appIDStr == "" {
		return fmt.Errorf("GITHUB_APP_ID is required")
	}

	appID, err := strconv.ParseInt(appIDStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid GITHUB_APP_ID: %w", err)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	pgStorage = postgres.New(db)

	if err := pgStorage.Migrate(context.Background()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Fail fast on an unusable Anthropic key rather than on the first review.
	validateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := anthropic.ValidateAPIKey(validateCtx, claudeAPIKey); err != nil {
		return fmt.Errorf("invalid ANTHROPIC_API_KEY (...%s): %w", anthropic.ExtractKeyHint(claudeAPIKey), err)
	}

	auth, err := github.NewAppAuth(appID, []byte(privateKey))
	if err != nil {
		return fmt.Errorf("failed to load GitHub App key: %w", err)
	}

	webhookHandler = github.NewWebhookHandler(webhookSecret)
	githubClient := github.NewClient(github.NewTokenCache(auth))

	reviewer = review.NewReviewer(githubClient, claudeAPIKey, pgStorage, logger)
	if model := os.Getenv("MACROZERO_MODEL"); model != "" {
		reviewer.SetModel(model)
	}

	logger.Info("initialized", "app_id", appID)

	return nil
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{
		"name":   "macrozero",
		"status": "running",
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Signature covers the raw bytes, so the body is read before any parsing.
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("failed to read body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		http.Error(w, "missing X-GitHub-Event header", http.StatusBadRequest)
		return
	}

	logger.Info("received webhook", "event", eventType, "size", len(payload))

	signature := r.Header.Get("X-Hub-Signature-256")
	if err := webhookHandler.VerifySignature(payload, signature); err != nil {
		logger.Error("signature verification failed", "error", err)
		if errors.Is(err, github.ErrSecretNotConfigured) {
			// Server misconfiguration, not a bad delivery.
			http.Error(w, "webhook secret not configured", http.StatusInternalServerError)
			return
		}
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	switch eventType {
	case "ping":
		jsonResponse(w, http.StatusOK, map[string]string{"message": "pong"})
	case "installation":
		handleInstallation(w, payload)
	case "pull_request":
		handlePullRequest(w, payload)
	default:
		logger.Info("ignoring event", "type", eventType)
		jsonResponse(w, http.StatusOK, map[string]string{"message": "event ignored"})
	}
}

func handleInstallation(w http.ResponseWriter, payload []byte) {
	event, err := webhookHandler.ParseInstallationEvent(payload)
	if err != nil {
		logger.Error("failed to parse installation event", "error", err)
		http.Error(w, "failed to parse event", http.StatusBadRequest)
		return
	}

	logger.Info("installation event",
		"action", event.Action,
		"installation_id", event.Installation.ID,
	)

	if event.Action == "created" {
		install := &storage.Installation{
			InstallationID: event.Installation.ID,
			InstalledAt:    time.Now().UTC().Format(time.RFC3339),
		}
		if event.Installation.Account != nil {
			install.AccountID = event.Installation.Account.ID
			install.OrgLogin = event.Installation.Account.Login
		}
		if err := pgStorage.SaveInstallation(context.Background(), install); err != nil {
			logger.Error("failed to save installation", "error", err)
		}
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "ok"})
}

func handlePullRequest(w http.ResponseWriter, payload []byte) {
	event, err := webhookHandler.ParsePullRequestEvent(payload)
	if err != nil {
		logger.Error("failed to parse event", "error", err)
		http.Error(w, "failed to parse event", http.StatusBadRequest)
		return
	}

	if !webhookHandler.ShouldProcess("pull_request", event) {
		logger.Info("skipping event", "action", event.Action)
		jsonResponse(w, http.StatusOK, map[string]string{"message": "event skipped"})
		return
	}

	logger.Info("processing PR",
		"repo", event.Repository.FullName,
		"pr", event.Number,
		"action", event.Action,
	)

	// Respond immediately to GitHub; the review runs in the background.
	jsonResponse(w, http.StatusOK, map[string]string{"message": "review started"})

	recordPullRequest(context.Background(), event)

	input := &review.ReviewInput{
		InstallationID: event.Installation.ID,
		Owner:          event.Repository.Owner.Login,
		Repo:           event.Repository.Name,
		PRNumber:       event.Number,
		PRTitle:        event.PullRequest.Title,
		PRBody:         event.PullRequest.Body,
		HeadSHA:        event.PullRequest.Head.SHA,
		DefaultBranch:  event.Repository.DefaultBranch,
	}

	go func() {
		reviewCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		reviewCtx = github.WithInstallation(reviewCtx, event.Installation.ID)

		result, err := reviewer.Review(reviewCtx, input)
		if err != nil {
			logger.Error("review failed", "error", err)
			return
		}

		if result == nil {
			logger.Info("review skipped (not enabled)")
			return
		}

		logger.Info("review posted",
			"review_id", result.ReviewID,
			"comments", result.CommentCount,
			"url", result.ReviewURL,
		)
	}()
}

// recordPullRequest keeps the relational bookkeeping current. Failures are
// logged; they never block the review.
func recordPullRequest(ctx context.Context, event *github.WebhookEvent) {
	install, _ := pgStorage.GetInstallation(ctx, event.Installation.ID)
	if install == nil {
		install = &storage.Installation{
			InstallationID: event.Installation.ID,
			OrgLogin:       event.Repository.Owner.Login,
			InstalledAt:    time.Now().UTC().Format(time.RFC3339),
		}
		if err := pgStorage.SaveInstallation(ctx, install); err != nil {
			logger.Error("failed to save installation", "error", err)
			return
		}
	}

	repo := &storage.Repository{
		GitHubID:       event.Repository.ID,
		InstallationID: event.Installation.ID,
		Owner:          event.Repository.Owner.Login,
		Name:           event.Repository.Name,
		DefaultBranch:  event.Repository.DefaultBranch,
	}
	if err := pgStorage.UpsertRepository(ctx, repo); err != nil {
		logger.Error("failed to upsert repository", "error", err)
		return
	}

	pr := &storage.PullRequest{
		RepoGitHubID: event.Repository.ID,
		Number:       event.Number,
		State:        event.PullRequest.State,
		Title:        event.PullRequest.Title,
		HeadSHA:      event.PullRequest.Head.SHA,
	}
	if err := pgStorage.UpsertPullRequest(ctx, pr); err != nil {
		logger.Error("failed to upsert pull request", "error", err)
	}
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
