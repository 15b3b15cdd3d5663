package review

import (
	"strings"
	"testing"

	"github.com/victoremeka/macrozero/github"
)

const promptTestDiff = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,3 @@
 package main
-func run() {}
+func run() error { return nil }
`

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("Add error return", "Makes run fallible.", nil, nil, promptTestDiff)

	if !strings.Contains(prompt, "Add error return") {
		t.Error("prompt missing PR title")
	}
	if !strings.Contains(prompt, "Makes run fallible.") {
		t.Error("prompt missing PR description")
	}
	// The diff is embedded in annotated form, positions before each line.
	if !strings.Contains(prompt, "3 | +func run() error { return nil }") {
		t.Error("prompt missing annotated diff line")
	}
	if !strings.Contains(prompt, "<diff>") || !strings.Contains(prompt, "</diff>") {
		t.Error("prompt missing diff delimiters")
	}
}

func TestBuildPromptEmptyDescription(t *testing.T) {
	prompt := BuildPrompt("Title", "", nil, nil, promptTestDiff)
	if !strings.Contains(prompt, "(No description provided)") {
		t.Error("empty description should be substituted")
	}
}

func TestBuildPromptCommitLog(t *testing.T) {
	commits := []github.Commit{
		{SHA: "aaaaaaaabbbbbbbb", Commit: github.CommitDetail{Message: "first change\n\nbody text"}},
		{SHA: "ccccccccdddddddd", Commit: github.CommitDetail{Message: "second change"}},
	}
	filesChanged := map[string]int{"aaaaaaaabbbbbbbb": 3}

	prompt := BuildPrompt("Title", "Desc", commits, filesChanged, promptTestDiff)

	if !strings.Contains(prompt, "Commits in this pull request") {
		t.Fatal("prompt missing commit log section")
	}
	if !strings.Contains(prompt, "- aaaaaaa first change (3 files)") {
		t.Error("commit with known file count rendered wrong")
	}
	if !strings.Contains(prompt, "- ccccccc second change\n") {
		t.Error("commit without file count rendered wrong")
	}
	if strings.Contains(prompt, "body text") {
		t.Error("commit log should only include the subject line")
	}
}

func TestBuildPromptSingleCommitOmitsLog(t *testing.T) {
	commits := []github.Commit{
		{SHA: "aaaaaaaabbbbbbbb", Commit: github.CommitDetail{Message: "only change"}},
	}
	prompt := BuildPrompt("Title", "Desc", commits, nil, promptTestDiff)
	if strings.Contains(prompt, "Commits in this pull request") {
		t.Error("single-commit PRs should not carry a commit log")
	}
}

func TestGetSystemPrompt(t *testing.T) {
	base := GetSystemPrompt("")
	if strings.Contains(base, "Repository-Specific Instructions") {
		t.Error("base system prompt should not mention repo instructions")
	}

	custom := GetSystemPrompt("We use sqlc for all queries.")
	if !strings.Contains(custom, "Repository-Specific Instructions") {
		t.Error("system prompt missing instructions section")
	}
	if !strings.Contains(custom, "We use sqlc for all queries.") {
		t.Error("system prompt missing instruction text")
	}
}
