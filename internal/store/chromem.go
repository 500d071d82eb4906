package store

import (
	"context"
	"fmt"
	"os"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposearch/internal/models"
)

var chromemTracer = otel.Tracer("reposearch.store.chromem")

// ChromemStore stores chunks in an embedded chromem-go database persisted
// under a local directory. No external service is required.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   Config
	logger   *zap.Logger
}

// NewChromemStore creates a chromem-backed store at cfg.Path.
func NewChromemStore(cfg Config, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if cfg.Collection == "" {
		cfg.Collection = "chunks"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory %s: %w", cfg.Path, err)
	}

	db, err := chromem.NewPersistentDB(cfg.Path, false)
	if err != nil {
		return nil, fmt.Errorf("%w: opening chromem database: %v", ErrConnectionFailed, err)
	}

	logger.Info("chromem store initialized",
		zap.String("path", cfg.Path),
		zap.String("collection", cfg.Collection))

	return &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   cfg,
		logger:   logger.Named("store.chromem"),
	}, nil
}

// embeddingFunc adapts the Embedder for chromem query-time embedding.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) collection() (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(s.config.Collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting collection %s: %w", s.config.Collection, err)
	}
	return col, nil
}

// StoreChunks embeds and upserts chunks into the collection.
func (s *ChromemStore) StoreChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.StoreChunks")
	defer span.End()

	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	if len(chunks) == 0 {
		return nil
	}

	col, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, ch := range chunks {
		docs[i] = chromem.Document{
			ID:        ch.ID,
			Content:   ch.Content,
			Metadata:  chunkMetadata(ch),
			Embedding: vectors[i],
		}
	}

	// Concurrency of 1: embeddings are already computed.
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("stored chunks",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(chunks)))
	return nil
}

// DeleteFileChunks removes all chunks of one file in a repository.
func (s *ChromemStore) DeleteFileChunks(ctx context.Context, repository, filePath string) error {
	return s.deleteWhere(ctx, "ChromemStore.DeleteFileChunks", map[string]string{
		"repository": repository,
		"file_path":  filePath,
	})
}

// DeleteRepositoryChunks removes all chunks of a repository.
func (s *ChromemStore) DeleteRepositoryChunks(ctx context.Context, repository string) error {
	return s.deleteWhere(ctx, "ChromemStore.DeleteRepositoryChunks", map[string]string{
		"repository": repository,
	})
}

func (s *ChromemStore) deleteWhere(ctx context.Context, spanName string, where map[string]string) error {
	ctx, span := chromemTracer.Start(ctx, spanName)
	defer span.End()

	col := s.db.GetCollection(s.config.Collection, s.embeddingFunc())
	if col == nil {
		// Nothing has been stored yet, so there is nothing to delete.
		return nil
	}

	if err := col.Delete(ctx, where, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search performs similarity search, optionally scoped to one repository.
func (s *ChromemStore) Search(ctx context.Context, query, repository string, limit int, scoreThreshold float32) ([]models.SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("repository", repository),
		attribute.Int("limit", limit),
	)

	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	col := s.db.GetCollection(s.config.Collection, s.embeddingFunc())
	if col == nil {
		return nil, nil
	}

	// chromem requires nResults <= document count.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	var where map[string]string
	if repository != "" {
		where = map[string]string{"repository": repository}
	}

	results, err := col.Query(ctx, query, limit, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Similarity < scoreThreshold {
			continue
		}
		out = append(out, models.SearchResult{
			Chunk: chunkFromStringMetadata(r.ID, r.Content, r.Metadata),
			Score: r.Similarity,
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// Close flushes nothing: chromem persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}

func chunkMetadata(ch models.DocumentChunk) map[string]string {
	return map[string]string{
		"repository": ch.Repository,
		"file_path":  ch.Metadata.FilePath,
		"chunk_type": string(ch.Metadata.ChunkType),
		"sequence":   strconv.Itoa(ch.Metadata.Sequence),
		"start_line": strconv.Itoa(ch.Metadata.StartLine),
		"end_line":   strconv.Itoa(ch.Metadata.EndLine),
	}
}

func chunkFromStringMetadata(id, content string, meta map[string]string) models.DocumentChunk {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	return models.DocumentChunk{
		ID:         id,
		Repository: meta["repository"],
		Content:    content,
		Metadata: models.ChunkMetadata{
			FilePath:  meta["file_path"],
			ChunkType: models.ChunkType(meta["chunk_type"]),
			Sequence:  atoi(meta["sequence"]),
			StartLine: atoi(meta["start_line"]),
			EndLine:   atoi(meta["end_line"]),
		},
	}
}

var _ Store = (*ChromemStore)(nil)
