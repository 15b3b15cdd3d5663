// Package main provides a local tool for inspecting unified diffs the way
// the reviewer sees them: it prints the annotated diff and the position
// index used to address inline comments.
//
// Usage:
//
//	go run cmd/local/main.go [-index] [diff-file]
//
// Reads the diff from the file argument, or from stdin when none is given.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/victoremeka/macrozero/diff"
)

func main() {
	indexOnly := flag.Bool("index", false, "print only the position index")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	input, err := readInput(flag.Arg(0))
	if err != nil {
		logger.Error("failed to read diff", "error", err)
		os.Exit(1)
	}

	parsed, err := diff.Parse(input)
	if err != nil {
		logger.Error("failed to parse diff", "error", err)
		os.Exit(1)
	}

	if !*indexOnly {
		fmt.Println(diff.Annotate(input))
		fmt.Println()
	}

	printIndex(parsed)
}

func readInput(path string) (string, error) {
	if path == "" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

// printIndex lists every commentable position per file, smallest first.
func printIndex(d *diff.Diff) {
	index := d.PositionIndex()

	paths := make([]string, 0, len(index))
	for path := range index {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		positions := make([]int, 0, len(index[path]))
		for pos := range index[path] {
			positions = append(positions, pos)
		}
		sort.Ints(positions)
		fmt.Printf("%s: %v\n", path, positions)
	}
}
