// Package config provides configuration loading for reposearch.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/reposearch/internal/logging"
)

// Config is the root configuration for the reposearch CLI and pipeline.
type Config struct {
	Logging    logging.Config   `koanf:"logging"`
	GitHub     GitHubConfig     `koanf:"github"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Store      StoreConfig      `koanf:"store"`
	Chunker    ChunkerConfig    `koanf:"chunker"`
	State      StateConfig      `koanf:"state"`
	Search     SearchConfig     `koanf:"search"`
}

// GitHubConfig configures the repository snapshot provider.
type GitHubConfig struct {
	// Token authenticates API requests and clones. Optional; anonymous
	// access works with stricter rate limits.
	Token string `koanf:"token"`

	// Fetcher selects the snapshot provider: "api" (GitHub REST, default)
	// or "clone" (shallow git clone).
	Fetcher string `koanf:"fetcher"`
}

// EmbeddingsConfig configures the embedding provider. The endpoint must be
// OpenAI-compatible (OpenAI itself, or a local TEI server).
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
}

// StoreConfig configures the chunk store backend.
type StoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider string `koanf:"provider"`

	// Path is the chromem persistence directory.
	Path string `koanf:"path"`

	// Collection is the chunk collection name.
	Collection string `koanf:"collection"`

	// VectorSize must match the embedding model's output dimension.
	VectorSize int `koanf:"vector_size"`

	// Qdrant connection settings (only used when Provider is "qdrant").
	QdrantHost string `koanf:"qdrant_host"`
	QdrantPort int    `koanf:"qdrant_port"`
	QdrantTLS  bool   `koanf:"qdrant_tls"`
}

// ChunkerConfig configures text splitting.
type ChunkerConfig struct {
	// ChunkSize is the target chunk size in tokens.
	ChunkSize int `koanf:"chunk_size"`

	// ChunkOverlap is the token overlap between adjacent chunks.
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// StateConfig configures the persisted indexing-state store.
type StateConfig struct {
	// Path is the SQLite database file.
	Path string `koanf:"path"`
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	MaxResults     int     `koanf:"max_results"`
	ScoreThreshold float64 `koanf:"score_threshold"`
}

// DefaultDataDir returns ~/.config/reposearch.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "reposearch"), nil
}

// ApplyDefaults sets default values for missing configuration fields.
func (c *Config) ApplyDefaults() error {
	dataDir, err := DefaultDataDir()
	if err != nil {
		return err
	}

	c.Logging.ApplyDefaults()

	if c.GitHub.Fetcher == "" {
		c.GitHub.Fetcher = "api"
	}
	if c.GitHub.Token == "" {
		c.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}

	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = "https://api.openai.com/v1"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "text-embedding-3-small"
	}
	if c.Embeddings.APIKey == "" {
		c.Embeddings.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if c.Store.Provider == "" {
		c.Store.Provider = "chromem"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(dataDir, "vectorstore")
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "chunks"
	}
	if c.Store.VectorSize == 0 {
		c.Store.VectorSize = 1536 // text-embedding-3-small dimensions
	}
	if c.Store.QdrantHost == "" {
		c.Store.QdrantHost = "localhost"
	}
	if c.Store.QdrantPort == 0 {
		c.Store.QdrantPort = 6334
	}

	if c.Chunker.ChunkSize == 0 {
		c.Chunker.ChunkSize = 1000
	}
	if c.Chunker.ChunkOverlap == 0 {
		c.Chunker.ChunkOverlap = 100
	}

	if c.State.Path == "" {
		c.State.Path = filepath.Join(dataDir, "state.db")
	}

	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = 10
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.GitHub.Fetcher {
	case "api", "clone":
	default:
		return fmt.Errorf("github.fetcher must be \"api\" or \"clone\", got %q", c.GitHub.Fetcher)
	}
	switch c.Store.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("store.provider must be \"chromem\" or \"qdrant\", got %q", c.Store.Provider)
	}
	if c.Store.VectorSize <= 0 {
		return fmt.Errorf("store.vector_size must be positive, got %d", c.Store.VectorSize)
	}
	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("chunker.chunk_overlap must be in [0, chunk_size), got %d", c.Chunker.ChunkOverlap)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	return nil
}
