package diff

import (
	"fmt"
	"strings"
)

// Annotate prefixes every positioned diff line with its position index,
// producing the "POS | line" form shown to the review agent. File headers
// and each file's first hunk header are left bare, mirroring how positions
// are counted: the agent reads a position off the prefix instead of deriving
// it from hunk headers.
func Annotate(text string) string {
	if text == "" {
		return ""
	}

	var out []string
	position := 0
	numbering := false

	lines := strings.Split(text, "\n")
	if n := len(lines); lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git") {
			position = 0
			numbering = false
			out = append(out, line)
			continue
		}

		if hunkHeaderRegex.MatchString(line) && !numbering {
			numbering = true
			out = append(out, line)
			continue
		}

		if !numbering {
			out = append(out, line)
			continue
		}

		position++
		out = append(out, fmt.Sprintf("%d | %s", position, line))
	}

	return strings.Join(out, "\n")
}

// FilePatch is a single file's slice of a larger diff.
type FilePatch struct {
	Path    string
	Content string
}

// SplitByFile splits a unified diff into per-file patches at "diff --git"
// boundaries. Used to drop excluded files from a diff before review.
func SplitByFile(text string) []FilePatch {
	if text == "" {
		return nil
	}

	var patches []FilePatch
	var current FilePatch
	var content strings.Builder

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "diff --git") {
			if current.Path != "" {
				current.Content = strings.TrimSuffix(content.String(), "\n")
				patches = append(patches, current)
				content.Reset()
			}
			current = FilePatch{Path: filePathFromHeader(line)}
		}

		content.WriteString(line)
		content.WriteString("\n")
	}

	if current.Path != "" {
		current.Content = strings.TrimSuffix(content.String(), "\n")
		patches = append(patches, current)
	}

	return patches
}

// Join reassembles per-file patches into one diff.
func Join(patches []FilePatch) string {
	var b strings.Builder
	for i, p := range patches {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Content)
	}
	return b.String()
}
