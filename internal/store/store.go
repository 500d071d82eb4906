// Package store persists and searches embedded document chunks.
//
// Two backends are provided: chromem, an embedded pure-Go vector database
// persisted on the local filesystem, and qdrant, a remote vector database
// reached over gRPC. Both index chunks under a single collection and scope
// every operation by repository through payload filtering.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposearch/internal/models"
)

var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid store configuration")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("vector store connection failed")

	// ErrEmbeddingFailed indicates embedding generation failed. Chunk
	// content was not persisted.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder generates vectors for documents and queries.
// *embeddings.Service satisfies this interface.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is a repository-scoped chunk store.
type Store interface {
	// StoreChunks embeds and upserts chunks. Chunk IDs are stable, so
	// re-storing the same chunk overwrites in place.
	StoreChunks(ctx context.Context, chunks []models.DocumentChunk) error

	// DeleteFileChunks removes all chunks of one file in a repository.
	DeleteFileChunks(ctx context.Context, repository, filePath string) error

	// DeleteRepositoryChunks removes all chunks of a repository.
	DeleteRepositoryChunks(ctx context.Context, repository string) error

	// Search returns up to limit chunks similar to query, ordered by
	// descending score. An empty repository searches across all
	// repositories. Results scoring below scoreThreshold are dropped.
	Search(ctx context.Context, query, repository string, limit int, scoreThreshold float32) ([]models.SearchResult, error)

	Close() error
}

// Config selects and configures a store backend.
type Config struct {
	// Provider is "chromem" or "qdrant".
	Provider string

	// Path is the persistence directory for the chromem backend.
	Path string

	// Collection is the collection chunks are stored in.
	Collection string

	// VectorSize is the embedding dimension. Must match the embedder.
	VectorSize int

	// QdrantHost, QdrantPort, and QdrantTLS configure the qdrant gRPC
	// connection.
	QdrantHost string
	QdrantPort int
	QdrantTLS  bool
}

// New creates the configured store backend.
func New(ctx context.Context, cfg Config, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(cfg, embedder, logger)
	case "qdrant":
		return NewQdrantStore(ctx, cfg, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
