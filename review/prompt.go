// Package review orchestrates pull-request reviews: it indexes the diff,
// asks the model for a structured review, clears stale drafts, and submits
// the result.
package review

import (
	"fmt"
	"strings"

	"github.com/victoremeka/macrozero/diff"
	"github.com/victoremeka/macrozero/github"
)

const systemPrompt = `You are an expert code reviewer. Your job is to review pull request diffs and provide actionable, helpful feedback.

Focus on:
- Bugs and logic errors
- Security vulnerabilities
- Performance issues
- Significant code clarity problems (only if code is genuinely confusing)

Do NOT comment on:
- Minor style preferences (indentation, spacing, etc.)
- Formatting issues (assume automated formatters handle this)
- Adding comments to self-explanatory code
- Trivial issues that don't affect functionality

Be concise and specific.

IMPORTANT: The diff is annotated with position indices. Each line after a file's first hunk header is prefixed with its position (e.g., "12 | +code here"). Always use the position shown before the | separator. Never try to calculate positions from hunk headers or file line numbers yourself.`

const reviewPromptTemplate = `Review the following pull request diff.

**Pull Request Title:** %s

**Pull Request Description:**
%s
%s
For each issue found, respond in this exact JSON format:
{
  "summary": "Brief overall assessment (1-2 sentences)",
  "comments": [
    {
      "path": "path/to/file.go",
      "position": 12,
      "body": "Your comment here explaining the issue and suggested fix.",
      "severity": "suggestion"
    }
  ],
  "approval": "comment"
}

Rules for the response:
1. "approval" must be one of: "approve", "request_changes", "comment"
   - Use "approve" only if there are no issues at all
   - Use "request_changes" for bugs, security issues, or serious problems
   - Use "comment" for suggestions and minor improvements
2. "path" must exactly match the file path from the diff
3. "position" must be the number shown before the | separator on the annotated diff line. Use that number directly. Do NOT try to calculate it yourself.
4. "severity" must be one of: "blocker", "suggestion", "nitpick"
5. Keep comments concise but actionable
6. If there are no issues, return an empty comments array
7. Return ONLY valid JSON, no markdown code blocks or other text

<diff>
%s
</diff>`

// BuildPrompt constructs the review prompt. commits may be empty; when the
// pull request carries more than one commit, their messages are included so
// the model understands the change's shape. filesChanged maps commit SHA to
// the number of files that commit touched and may be nil.
func BuildPrompt(title, description string, commits []github.Commit, filesChanged map[string]int, diffText string) string {
	if description == "" {
		description = "(No description provided)"
	}

	return fmt.Sprintf(reviewPromptTemplate, title, description,
		formatCommitLog(commits, filesChanged), diff.Annotate(diffText))
}

// formatCommitLog renders a short commit log section, or nothing for
// single-commit pull requests.
func formatCommitLog(commits []github.Commit, filesChanged map[string]int) string {
	if len(commits) < 2 {
		return "\n"
	}

	var b strings.Builder
	b.WriteString("\n**Commits in this pull request:**\n")
	for _, c := range commits {
		sha := c.SHA
		if len(sha) > 7 {
			sha = sha[:7]
		}
		subject := c.Commit.Message
		if idx := strings.IndexByte(subject, '\n'); idx >= 0 {
			subject = subject[:idx]
		}
		if n, ok := filesChanged[c.SHA]; ok {
			fmt.Fprintf(&b, "- %s %s (%d files)\n", sha, subject, n)
		} else {
			fmt.Fprintf(&b, "- %s %s\n", sha, subject)
		}
	}
	b.WriteString("\n")
	return b.String()
}

// GetSystemPrompt returns the system prompt, optionally extended with
// repository-specific instructions from the repo config.
func GetSystemPrompt(instructions string) string {
	result := systemPrompt

	if instructions != "" {
		result += "\n\n## Repository-Specific Instructions\n\n" + instructions
	}

	return result
}
