// Package mcp exposes indexing and search over the Model Context Protocol,
// using the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp) on the
// stdio transport. Tool calls delegate to the indexer service directly.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposearch/internal/indexer"
	"github.com/fyrsmithlabs/reposearch/internal/models"
)

// Indexer is the service surface the tools delegate to. *indexer.Service
// satisfies this interface.
type Indexer interface {
	Index(ctx context.Context, repository string, opts indexer.Options) (*models.RepositoryInfo, error)
	Search(ctx context.Context, query, repository string, limit int, scoreThreshold float32) ([]models.SearchResult, error)
	Repositories(ctx context.Context) ([]*models.RepositoryInfo, error)
	Delete(ctx context.Context, repository string) error
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "reposearch").
	Name string

	// Version is the server version (default: "dev").
	Version string

	// MaxResults is the search result limit applied when a call does not
	// set one.
	MaxResults int

	// ScoreThreshold is the minimum similarity score applied when a call
	// does not set one.
	ScoreThreshold float64

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:       "reposearch",
		Version:    "dev",
		MaxResults: 10,
		Logger:     zap.NewNop(),
	}
}

// Server serves the reposearch tools over MCP.
type Server struct {
	mcp            *mcp.Server
	indexer        Indexer
	maxResults     int
	scoreThreshold float64
	logger         *zap.Logger
}

// NewServer creates an MCP server over the given indexer service.
func NewServer(cfg *Config, idx Indexer) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if idx == nil {
		return nil, fmt.Errorf("indexer service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:            mcpServer,
		indexer:        idx,
		maxResults:     cfg.MaxResults,
		scoreThreshold: cfg.ScoreThreshold,
		logger:         cfg.Logger.Named("mcp"),
	}
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport and blocks until the
// context is canceled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
