package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/victoremeka/macrozero/diff"
	"github.com/victoremeka/macrozero/github"
)

// AgentResponse is the structured review returned by the model.
type AgentResponse struct {
	Summary  string         `json:"summary"`
	Comments []AgentComment `json:"comments"`
	Approval string         `json:"approval"`
}

// AgentComment is a single inline comment from the model. Position is the
// diff position index shown in the annotated diff, not a file line number.
type AgentComment struct {
	Path     string `json:"path"`
	Position int    `json:"position"`
	Body     string `json:"body"`
	Severity string `json:"severity,omitempty"` // "blocker", "suggestion", "nitpick"
}

// ParseResponse parses the model's JSON response into a structured review.
func ParseResponse(response string) (*AgentResponse, error) {
	cleaned := cleanResponse(response)

	var result AgentResponse
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("failed to parse agent response as JSON: %w\nResponse: %s", err, cleaned)
	}

	if err := validateResponse(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// cleanResponse removes markdown code blocks and surrounding whitespace.
func cleanResponse(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
	}

	response = strings.TrimSuffix(response, "```")

	return strings.TrimSpace(response)
}

func validateResponse(resp *AgentResponse) error {
	switch resp.Approval {
	case "approve", "request_changes", "comment":
	case "":
		resp.Approval = "comment"
	default:
		return fmt.Errorf("invalid approval value: %s", resp.Approval)
	}

	for i, comment := range resp.Comments {
		if comment.Path == "" {
			return fmt.Errorf("comment %d has empty path", i)
		}
		if comment.Position <= 0 {
			return fmt.Errorf("comment %d has invalid position: %d", i, comment.Position)
		}
		if comment.Body == "" {
			return fmt.Errorf("comment %d has empty body", i)
		}
		switch comment.Severity {
		case "blocker", "suggestion", "nitpick":
		case "":
			resp.Comments[i].Severity = "suggestion"
		default:
			return fmt.Errorf("comment %d has invalid severity: %s (must be blocker, suggestion, or nitpick)", i, comment.Severity)
		}
	}

	return nil
}

// FilterValidComments drops comments whose positions are not in the diff's
// commentable index. A comment with an invented position would be rejected
// by the review endpoint and sink the whole submission, so they are filtered
// before the request is built. Returns the surviving comments and the count
// dropped.
func FilterValidComments(comments []AgentComment, index diff.Index, logger *slog.Logger) ([]AgentComment, int) {
	if len(comments) == 0 {
		return comments, 0
	}

	valid := make([]AgentComment, 0, len(comments))
	filtered := 0

	for _, c := range comments {
		if index.Valid(c.Path, c.Position) {
			valid = append(valid, c)
		} else {
			filtered++
			if logger != nil {
				logger.Warn("filtered comment with invalid position",
					"path", c.Path,
					"position", c.Position,
					"body_preview", truncateString(c.Body, 50),
				)
			}
		}
	}

	return valid, filtered
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// ToReviewRequest converts an agent response to a review-submission request.
// Comments are addressed by position only.
func ToReviewRequest(resp *AgentResponse, commitSHA string) (*github.ReviewRequest, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}

	comments := make([]github.ReviewComment, len(resp.Comments))
	for i, c := range resp.Comments {
		comments[i] = github.ReviewComment{
			Path:     c.Path,
			Position: c.Position,
			Body:     FormatCommentWithSeverity(c.Body, c.Severity),
		}
	}

	return &github.ReviewRequest{
		CommitID: commitSHA,
		Body:     resp.Summary,
		Event:    mapApprovalToEvent(resp.Approval),
		Comments: comments,
	}, nil
}

// mapApprovalToEvent maps the model's approval value to GitHub's event type.
func mapApprovalToEvent(approval string) string {
	switch approval {
	case "approve":
		return "APPROVE"
	case "request_changes":
		return "REQUEST_CHANGES"
	default:
		return "COMMENT"
	}
}

// FormatCommentWithSeverity adds a severity badge to the comment body.
func FormatCommentWithSeverity(body, severity string) string {
	switch severity {
	case "blocker":
		return "**[BLOCKER]** " + body
	case "nitpick":
		return "*[nitpick]* " + body
	default:
		return body
	}
}
