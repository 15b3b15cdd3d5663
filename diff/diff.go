// Package diff parses unified diffs and assigns the 1-based position
// indices GitHub uses to anchor inline review comments.
//
// Position policy: the counter is file-scoped. Position 1 is the first line
// after a file's first hunk header, and it increments once for every
// following line of that file's diff, including later hunk headers and
// "\ No newline at end of file" markers. The counter resets only at the
// next "diff --git" boundary. This matches GitHub's documented contract for
// the position field ("the number of lines down from the first @@ hunk
// header"). A hunk-local offset is recoverable from each hunk's own line
// slice; both interpretations are pinned by tests.
package diff

import (
	"fmt"
	"regexp"
	"strings"
)

// hunkHeaderRegex matches unified diff hunk headers like "@@ -10,5 +15,7 @@".
var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Line is one line of a hunk together with its position index.
type Line struct {
	Text     string
	Position int
}

// Hunk is a contiguous block bounded by a "@@ ... @@" header.
// HeaderPosition is zero for a file's first hunk; later hunk headers consume
// a position of their own.
type Hunk struct {
	Header         string
	HeaderPosition int
	Lines          []Line
}

// File is one file section of a diff. A section with no hunks (binary or
// rename-only change) has an empty Hunks slice and no positions.
type File struct {
	Path  string
	Hunks []Hunk
}

// Diff is a parsed unified diff.
type Diff struct {
	Files []File
}

// ParseError indicates structurally invalid diff input.
type ParseError struct {
	LineNumber int
	Line       string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed diff at line %d: %q", e.LineNumber, e.Line)
}

// Parse splits diff text into file sections and hunks and assigns position
// indices. Empty input yields an empty Diff. Hunk-less file sections are
// kept with zero positions.
func Parse(text string) (*Diff, error) {
	d := &Diff{}
	if text == "" {
		return d, nil
	}

	var file *File
	var hunk *Hunk
	position := 0

	flushHunk := func() {
		if hunk != nil {
			file.Hunks = append(file.Hunks, *hunk)
			hunk = nil
		}
	}
	flushFile := func() {
		flushHunk()
		if file != nil {
			d.Files = append(d.Files, *file)
			file = nil
		}
	}

	lines := strings.Split(text, "\n")
	// A trailing newline is not a diff line.
	if n := len(lines); lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for i, line := range lines {
		if strings.HasPrefix(line, "diff --git") {
			flushFile()
			file = &File{Path: filePathFromHeader(line)}
			position = 0
			continue
		}

		if hunkHeaderRegex.MatchString(line) {
			if file == nil {
				return nil, &ParseError{LineNumber: i + 1, Line: line}
			}
			flushHunk()
			// The file's first hunk header is position 0 (numbering starts
			// on the next line); later headers consume a position.
			headerPos := 0
			if position > 0 {
				position++
				headerPos = position
			}
			hunk = &Hunk{Header: line, HeaderPosition: headerPos}
			continue
		}

		if hunk == nil {
			// File metadata (index, ---, +++, mode lines) before the first
			// hunk, or trailing text outside any file. Not positioned.
			continue
		}

		// Every line after the first hunk header counts, including
		// "\ No newline at end of file" markers.
		position++
		hunk.Lines = append(hunk.Lines, Line{Text: line, Position: position})
	}
	flushFile()

	return d, nil
}

// filePathFromHeader extracts the new-side path from a
// "diff --git a/path b/path" line.
func filePathFromHeader(line string) string {
	parts := strings.Split(line, " ")
	if len(parts) >= 4 {
		return strings.TrimPrefix(parts[3], "b/")
	}
	return "unknown"
}

// Index maps file paths to the set of positions that can carry an inline
// comment. Hunk headers and "\ No newline" markers consume positions but are
// not commentable, so they are absent from the index.
type Index map[string]map[int]bool

// Valid reports whether a position in a file can carry an inline comment.
func (ix Index) Valid(path string, position int) bool {
	positions, ok := ix[path]
	if !ok {
		return false
	}
	return positions[position]
}

// PositionIndex builds the commentable-position index for a parsed diff.
// Parsing is deterministic, so the index is too.
func (d *Diff) PositionIndex() Index {
	ix := make(Index)
	for _, f := range d.Files {
		positions := make(map[int]bool)
		for _, h := range f.Hunks {
			for _, l := range h.Lines {
				if strings.HasPrefix(l.Text, "\\") {
					continue
				}
				positions[l.Position] = true
			}
		}
		ix[f.Path] = positions
	}
	return ix
}

// File returns the section for a path, or nil if the diff does not touch it.
func (d *Diff) File(path string) *File {
	for i := range d.Files {
		if d.Files[i].Path == path {
			return &d.Files[i]
		}
	}
	return nil
}
