package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reposearch/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	Long: `Run reposearch as a Model Context Protocol server on stdin/stdout,
exposing index_repository, semantic_search, list_indexed_repositories and
delete_repository as tools.

Intended to be launched by an MCP client, for example:

  {"mcpServers": {"reposearch": {"command": "reposearch", "args": ["mcp"]}}}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	srv, err := mcp.NewServer(&mcp.Config{
		Name:           "reposearch",
		Version:        version,
		MaxResults:     a.cfg.Search.MaxResults,
		ScoreThreshold: a.cfg.Search.ScoreThreshold,
		Logger:         a.logger,
	}, a.service)
	if err != nil {
		return err
	}

	return srv.Run(cmd.Context())
}
