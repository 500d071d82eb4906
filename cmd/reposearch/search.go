package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchRepo      string
	searchLimit     int
	searchThreshold float64
)

var searchCmd = &cobra.Command{
	Use:   "search \"query\"",
	Short: "Search indexed repositories",
	Long: `Search the indexed content with a natural-language query.

Examples:
  # Search across all indexed repositories
  reposearch search "how is the connection pool configured"

  # Search one repository
  reposearch search --repo golang/go "scheduler preemption"

  # Require a minimum similarity score
  reposearch search --threshold 0.5 "token refresh"`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchRepo, "repo", "", "restrict the search to one repository (owner/repo)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum number of results (default from config)")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", -1, "minimum similarity score (default from config)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	limit := searchLimit
	if limit <= 0 {
		limit = a.cfg.Search.MaxResults
	}
	threshold := searchThreshold
	if threshold < 0 {
		threshold = a.cfg.Search.ScoreThreshold
	}

	results, err := a.service.Search(cmd.Context(), args[0], searchRepo, limit, float32(threshold))
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. %s (score %.3f)\n", i+1, r.Source(), r.Score)
		fmt.Println(indent(snippet(r.Chunk.Content, 6), "   "))
	}
	return nil
}

// snippet truncates content to at most maxLines lines for terminal output.
func snippet(content string, maxLines int) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:maxLines], "\n") + "\n..."
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
