package store

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/reposearch/internal/models"
)

var qdrantTracer = otel.Tracer("reposearch.store.qdrant")

// qdrantMaxMessageSize raises the gRPC message limit so large chunk batches
// upsert without hitting transport errors.
const qdrantMaxMessageSize = 50 * 1024 * 1024

const (
	qdrantMaxRetries   = 3
	qdrantRetryBackoff = time.Second
)

// QdrantStore stores chunks in a Qdrant server over native gRPC.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   Config
	logger   *zap.Logger
}

// NewQdrantStore connects to Qdrant and ensures the collection exists.
func NewQdrantStore(ctx context.Context, cfg Config, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if cfg.QdrantHost == "" {
		return nil, fmt.Errorf("%w: qdrant host is required", ErrInvalidConfig)
	}
	if cfg.QdrantPort <= 0 || cfg.QdrantPort > 65535 {
		return nil, fmt.Errorf("%w: invalid qdrant port %d", ErrInvalidConfig, cfg.QdrantPort)
	}
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("%w: vector size is required", ErrInvalidConfig)
	}
	if cfg.Collection == "" {
		cfg.Collection = "chunks"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		UseTLS: cfg.QdrantTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(qdrantMaxMessageSize),
				grpc.MaxCallSendMsgSize(qdrantMaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   cfg,
		logger:   logger.Named("store.qdrant"),
	}

	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	s.logger.Info("qdrant store initialized",
		zap.String("host", cfg.QdrantHost),
		zap.Int("port", cfg.QdrantPort),
		zap.String("collection", cfg.Collection))

	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("%w: checking collection %s: %v", ErrConnectionFailed, s.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

// isTransient reports whether a gRPC error is worth retrying.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// retry runs op with exponential backoff on transient gRPC failures.
func (s *QdrantStore) retry(ctx context.Context, name string, op func() error) error {
	backoff := qdrantRetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt == qdrantMaxRetries {
			return fmt.Errorf("%s: %w", name, err)
		}

		s.logger.Warn("retrying qdrant operation",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// StoreChunks embeds and upserts chunks. Chunk IDs are UUIDs, so they map
// directly to Qdrant point IDs and re-storing overwrites in place.
func (s *QdrantStore) StoreChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.StoreChunks")
	defer span.End()

	span.SetAttributes(
		attribute.Int("chunk_count", len(chunks)),
		attribute.String("collection", s.config.Collection),
	)

	if len(chunks) == 0 {
		return nil
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

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, ch := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(ch.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: chunkPayload(ch),
		}
	}

	err = s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("stored chunks",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(chunks)))
	return nil
}

// DeleteFileChunks removes all chunks of one file in a repository.
func (s *QdrantStore) DeleteFileChunks(ctx context.Context, repository, filePath string) error {
	return s.deleteByFilter(ctx, "QdrantStore.DeleteFileChunks", &qdrant.Filter{
		Must: []*qdrant.Condition{
			keywordCondition("repository", repository),
			keywordCondition("file_path", filePath),
		},
	})
}

// DeleteRepositoryChunks removes all chunks of a repository.
func (s *QdrantStore) DeleteRepositoryChunks(ctx context.Context, repository string) error {
	return s.deleteByFilter(ctx, "QdrantStore.DeleteRepositoryChunks", &qdrant.Filter{
		Must: []*qdrant.Condition{
			keywordCondition("repository", repository),
		},
	})
}

func (s *QdrantStore) deleteByFilter(ctx context.Context, spanName string, filter *qdrant.Filter) error {
	ctx, span := qdrantTracer.Start(ctx, spanName)
	defer span.End()

	err := s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search performs similarity search, optionally scoped to one repository.
func (s *QdrantStore) Search(ctx context.Context, query, repository string, limit int, scoreThreshold float32) ([]models.SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
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

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var filter *qdrant.Filter
	if repository != "" {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{keywordCondition("repository", repository)},
		}
	}

	queryPoints := &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filter,
	}
	if scoreThreshold > 0 {
		queryPoints.ScoreThreshold = qdrant.PtrOf(scoreThreshold)
	}

	var points []*qdrant.ScoredPoint
	err = s.retry(ctx, "query", func() error {
		res, err := s.client.Query(ctx, queryPoints)
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make([]models.SearchResult, 0, len(points))
	for _, p := range points {
		out = append(out, models.SearchResult{
			Chunk: chunkFromPayload(p.Payload),
			Score: p.Score,
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func chunkPayload(ch models.DocumentChunk) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"id":         {Kind: &qdrant.Value_StringValue{StringValue: ch.ID}},
		"content":    {Kind: &qdrant.Value_StringValue{StringValue: ch.Content}},
		"repository": {Kind: &qdrant.Value_StringValue{StringValue: ch.Repository}},
		"file_path":  {Kind: &qdrant.Value_StringValue{StringValue: ch.Metadata.FilePath}},
		"chunk_type": {Kind: &qdrant.Value_StringValue{StringValue: string(ch.Metadata.ChunkType)}},
		"sequence":   {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(ch.Metadata.Sequence)}},
		"start_line": {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(ch.Metadata.StartLine)}},
		"end_line":   {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(ch.Metadata.EndLine)}},
	}
}

func chunkFromPayload(payload map[string]*qdrant.Value) models.DocumentChunk {
	str := func(key string) string {
		if v, ok := payload[key]; ok {
			if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
				return sv.StringValue
			}
		}
		return ""
	}
	num := func(key string) int {
		if v, ok := payload[key]; ok {
			if iv, ok := v.Kind.(*qdrant.Value_IntegerValue); ok {
				return int(iv.IntegerValue)
			}
		}
		return 0
	}
	return models.DocumentChunk{
		ID:         str("id"),
		Repository: str("repository"),
		Content:    str("content"),
		Metadata: models.ChunkMetadata{
			FilePath:  str("file_path"),
			ChunkType: models.ChunkType(str("chunk_type")),
			Sequence:  num("sequence"),
			StartLine: num("start_line"),
			EndLine:   num("end_line"),
		},
	}
}

var _ Store = (*QdrantStore)(nil)
