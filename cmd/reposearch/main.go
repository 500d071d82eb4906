// Package main implements the reposearch CLI: incremental indexing of
// GitHub repositories into a vector store and semantic search over the
// indexed content.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposearch/internal/chunker"
	"github.com/fyrsmithlabs/reposearch/internal/config"
	"github.com/fyrsmithlabs/reposearch/internal/embeddings"
	"github.com/fyrsmithlabs/reposearch/internal/fetch"
	"github.com/fyrsmithlabs/reposearch/internal/indexer"
	"github.com/fyrsmithlabs/reposearch/internal/logging"
	"github.com/fyrsmithlabs/reposearch/internal/state"
	"github.com/fyrsmithlabs/reposearch/internal/store"
)

var (
	// configPath is the config file override (--config).
	configPath string
	// version information, set at build time.
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reposearch",
	Short: "Semantic code search over GitHub repositories",
	Long: `reposearch indexes GitHub repositories into a vector store and answers
natural-language search queries over the indexed content.

Indexing is incremental: each run downloads only what changed since the
last successful run, and interrupted runs resume from the last completed
stage.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/reposearch/config.yaml)")
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(reposCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(mcpCmd)
}

// app bundles the wired service stack for one command invocation.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	states  *state.Store
	chunks  store.Store
	service *indexer.Service
}

// newApp loads configuration and wires the full service stack.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := config.EnsureDataDir(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	fetcher, err := fetch.New(fetch.Config{
		Provider: cfg.GitHub.Fetcher,
		Token:    cfg.GitHub.Token,
	}, logger)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		APIKey:  cfg.Embeddings.APIKey,
	})
	if err != nil {
		return nil, err
	}

	chunks, err := store.New(cmd.Context(), store.Config{
		Provider:   cfg.Store.Provider,
		Path:       cfg.Store.Path,
		Collection: cfg.Store.Collection,
		VectorSize: cfg.Store.VectorSize,
		QdrantHost: cfg.Store.QdrantHost,
		QdrantPort: cfg.Store.QdrantPort,
		QdrantTLS:  cfg.Store.QdrantTLS,
	}, embedder, logger)
	if err != nil {
		return nil, err
	}

	states, err := state.Open(cfg.State.Path)
	if err != nil {
		_ = chunks.Close()
		return nil, err
	}

	textChunker := chunker.New(chunker.Config{
		ChunkSize:    cfg.Chunker.ChunkSize,
		ChunkOverlap: cfg.Chunker.ChunkOverlap,
	}, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		states:  states,
		chunks:  chunks,
		service: indexer.New(fetcher, textChunker, states, chunks, logger),
	}, nil
}

func (a *app) close() {
	if err := a.states.Close(); err != nil {
		a.logger.Warn("closing state store", zap.Error(err))
	}
	if err := a.chunks.Close(); err != nil {
		a.logger.Warn("closing chunk store", zap.Error(err))
	}
	_ = a.logger.Sync()
}
