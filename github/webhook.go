package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingSignature indicates the signature header was absent.
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrSecretNotConfigured indicates no webhook secret is provisioned.
	// This is a server misconfiguration, not a client fault.
	ErrSecretNotConfigured = errors.New("webhook secret not configured")
	// ErrSignatureMismatch indicates the computed and provided signatures differ.
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
)

// WebhookHandler verifies and parses GitHub webhook deliveries.
type WebhookHandler struct {
	secret []byte
}

// NewWebhookHandler creates a webhook handler with the given shared secret.
func NewWebhookHandler(secret string) *WebhookHandler {
	return &WebhookHandler{
		secret: []byte(secret),
	}
}

// VerifySignature checks the HMAC-SHA256 signature of a webhook payload.
// The payload must be the raw request body exactly as received; the
// comparison is byte-for-byte, so verifying a re-serialized body is wrong.
// The signature header format is "sha256=<hex-encoded-signature>".
func (h *WebhookHandler) VerifySignature(payload []byte, signatureHeader string) error {
	if len(h.secret) == 0 {
		return ErrSecretNotConfigured
	}
	if signatureHeader == "" {
		return ErrMissingSignature
	}

	parts := strings.SplitN(signatureHeader, "=", 2)
	if len(parts) != 2 || parts[0] != "sha256" {
		return ErrSignatureMismatch
	}

	signature, err := hex.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(payload)
	expected := mac.Sum(nil)

	// hmac.Equal is constant-time.
	if !hmac.Equal(signature, expected) {
		return ErrSignatureMismatch
	}

	return nil
}

// ParsePullRequestEvent parses a pull_request webhook payload.
func (h *WebhookHandler) ParsePullRequestEvent(payload []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	if event.PullRequest == nil {
		return nil, errors.New("payload is not a pull request event")
	}
	if event.Installation == nil {
		return nil, errors.New("payload is missing installation")
	}

	return &event, nil
}

// ShouldProcess reports whether the event should trigger a review.
// Returns true for pull_request events with actions: opened, synchronize, reopened.
func (h *WebhookHandler) ShouldProcess(eventType string, event *WebhookEvent) bool {
	if eventType != "pull_request" {
		return false
	}

	switch event.Action {
	case "opened", "synchronize", "reopened":
		return true
	default:
		return false
	}
}

// ParseInstallationEvent parses an installation webhook payload.
func (h *WebhookHandler) ParseInstallationEvent(payload []byte) (*InstallationEvent, error) {
	var event InstallationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse installation payload: %w", err)
	}

	if event.Installation == nil {
		return nil, errors.New("payload is missing installation")
	}

	return &event, nil
}
