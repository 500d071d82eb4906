package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposearch/internal/indexer"
)

type indexInput struct {
	Repository    string `json:"repository" jsonschema:"required,Repository name in the format 'owner/name'"`
	ForceRefresh  bool   `json:"force_refresh,omitempty" jsonschema:"Re-run every indexing stage even if the repository is up to date"`
	ForceDownload bool   `json:"force_download,omitempty" jsonschema:"Re-run the download stage and re-chunk only the changed files"`
}

type indexOutput struct {
	Repository   string `json:"repository" jsonschema:"Repository that was indexed"`
	CommitHash   string `json:"commit_hash" jsonschema:"Commit the index corresponds to"`
	NumFiles     int    `json:"num_files" jsonschema:"Number of text files in the snapshot"`
	NumChunks    int    `json:"num_chunks" jsonschema:"Number of stored chunks"`
	FullyIndexed bool   `json:"fully_indexed" jsonschema:"Whether all indexing stages completed"`
}

type searchInput struct {
	Query          string  `json:"query" jsonschema:"required,Query text to search for"`
	Repository     string  `json:"repository,omitempty" jsonschema:"Optional repository to search in (owner/name)"`
	Limit          int     `json:"limit,omitempty" jsonschema:"Maximum number of results to return"`
	ScoreThreshold float64 `json:"score_threshold,omitempty" jsonschema:"Minimum similarity score for results"`
}

type searchResult struct {
	Source     string  `json:"source" jsonschema:"Origin of the chunk (repository, file, line range)"`
	Repository string  `json:"repository" jsonschema:"Repository the chunk belongs to"`
	FilePath   string  `json:"file_path" jsonschema:"File the chunk was derived from"`
	StartLine  int     `json:"start_line" jsonschema:"First line of the chunk (zero-based)"`
	EndLine    int     `json:"end_line" jsonschema:"Last line of the chunk (zero-based)"`
	Score      float32 `json:"score" jsonschema:"Similarity score"`
	Content    string  `json:"content" jsonschema:"Chunk text"`
}

type searchOutput struct {
	Query   string         `json:"query" jsonschema:"Query that was searched"`
	Results []searchResult `json:"results" jsonschema:"Matching chunks ordered by score"`
	Count   int            `json:"count" jsonschema:"Number of results"`
}

// listInput is empty because it lists every indexed repository.
type listInput struct{}

type repositoryState struct {
	Repository   string `json:"repository" jsonschema:"Repository identifier (owner/name)"`
	CommitHash   string `json:"commit_hash" jsonschema:"Commit the index corresponds to"`
	NumFiles     int    `json:"num_files" jsonschema:"Number of text files in the snapshot"`
	NumChunks    int    `json:"num_chunks" jsonschema:"Number of stored chunks"`
	FullyIndexed bool   `json:"fully_indexed" jsonschema:"Whether all indexing stages completed"`
}

type listOutput struct {
	Repositories []repositoryState `json:"repositories" jsonschema:"Indexed repositories and their state"`
	Count        int               `json:"count" jsonschema:"Number of repositories"`
}

type deleteInput struct {
	Repository string `json:"repository" jsonschema:"required,Repository to remove (owner/name)"`
}

type deleteOutput struct {
	Repository string `json:"repository" jsonschema:"Repository that was removed"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_repository",
		Description: "Index a GitHub repository for semantic search. Indexing is incremental: an up-to-date repository is a no-op and an interrupted run resumes from the failed stage.",
	}, s.handleIndexRepository)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "semantic_search",
		Description: "Perform semantic search over indexed repositories.",
	}, s.handleSemanticSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_indexed_repositories",
		Description: "List indexed repositories with their indexing state.",
	}, s.handleListRepositories)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_repository",
		Description: "Remove a repository's indexed chunks and state.",
	}, s.handleDeleteRepository)
}

func (s *Server) handleIndexRepository(ctx context.Context, req *mcp.CallToolRequest, args indexInput) (*mcp.CallToolResult, indexOutput, error) {
	if args.Repository == "" {
		return nil, indexOutput{}, fmt.Errorf("repository is required")
	}

	info, err := s.indexer.Index(ctx, args.Repository, indexer.Options{
		ForceRefresh:  args.ForceRefresh,
		ForceDownload: args.ForceDownload,
	})
	if err != nil {
		s.logger.Warn("index tool failed",
			zap.String("repository", args.Repository),
			zap.Error(err))
		return nil, indexOutput{}, err
	}

	output := indexOutput{
		Repository:   info.FullName(),
		CommitHash:   info.CommitHash,
		NumFiles:     info.NumFiles,
		NumChunks:    info.NumChunks,
		FullyIndexed: info.FullyIndexed(),
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Indexed %s at %s (%d files, %d chunks)",
				output.Repository, output.CommitHash, output.NumFiles, output.NumChunks)},
		},
	}, output, nil
}

func (s *Server) handleSemanticSearch(ctx context.Context, req *mcp.CallToolRequest, args searchInput) (*mcp.CallToolResult, searchOutput, error) {
	if args.Query == "" {
		return nil, searchOutput{}, fmt.Errorf("query is required")
	}

	limit := args.Limit
	if limit <= 0 {
		limit = s.maxResults
	}
	threshold := args.ScoreThreshold
	if threshold <= 0 {
		threshold = s.scoreThreshold
	}

	results, err := s.indexer.Search(ctx, args.Query, args.Repository, limit, float32(threshold))
	if err != nil {
		return nil, searchOutput{}, err
	}

	output := searchOutput{
		Query:   args.Query,
		Results: make([]searchResult, 0, len(results)),
		Count:   len(results),
	}
	for _, r := range results {
		output.Results = append(output.Results, searchResult{
			Source:     r.Source(),
			Repository: r.Chunk.Repository,
			FilePath:   r.Chunk.Metadata.FilePath,
			StartLine:  r.Chunk.Metadata.StartLine,
			EndLine:    r.Chunk.Metadata.EndLine,
			Score:      r.Score,
			Content:    r.Chunk.Content,
		})
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Found %d result(s) for %q", output.Count, args.Query)},
		},
	}, output, nil
}

func (s *Server) handleListRepositories(ctx context.Context, req *mcp.CallToolRequest, args listInput) (*mcp.CallToolResult, listOutput, error) {
	infos, err := s.indexer.Repositories(ctx)
	if err != nil {
		return nil, listOutput{}, err
	}

	output := listOutput{
		Repositories: make([]repositoryState, 0, len(infos)),
		Count:        len(infos),
	}
	for _, info := range infos {
		output.Repositories = append(output.Repositories, repositoryState{
			Repository:   info.FullName(),
			CommitHash:   info.CommitHash,
			NumFiles:     info.NumFiles,
			NumChunks:    info.NumChunks,
			FullyIndexed: info.FullyIndexed(),
		})
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%d repositories indexed", output.Count)},
		},
	}, output, nil
}

func (s *Server) handleDeleteRepository(ctx context.Context, req *mcp.CallToolRequest, args deleteInput) (*mcp.CallToolResult, deleteOutput, error) {
	if args.Repository == "" {
		return nil, deleteOutput{}, fmt.Errorf("repository is required")
	}

	if err := s.indexer.Delete(ctx, args.Repository); err != nil {
		return nil, deleteOutput{}, err
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Deleted %s", args.Repository)},
		},
	}, deleteOutput{Repository: args.Repository}, nil
}
