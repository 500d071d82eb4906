// Package indexer orchestrates the indexing pipeline: resolve the
// repository's snapshot identity, plan which stages must run, then execute
// download, chunk, and embed with the per-stage state persisted after every
// transition so an interrupted run resumes from the last completed stage.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposearch/internal/chunker"
	"github.com/fyrsmithlabs/reposearch/internal/diff"
	"github.com/fyrsmithlabs/reposearch/internal/fetch"
	"github.com/fyrsmithlabs/reposearch/internal/models"
	"github.com/fyrsmithlabs/reposearch/internal/planner"
	"github.com/fyrsmithlabs/reposearch/internal/store"
)

var tracer = otel.Tracer("reposearch.indexer")

// ErrIndexInProgress is returned when an index run is already active for the
// same repository.
var ErrIndexInProgress = errors.New("indexing already in progress for repository")

// StateStore persists per-repository indexing state. *state.Store satisfies
// this interface.
type StateStore interface {
	Get(ctx context.Context, fullName string) (*models.RepositoryInfo, error)
	Put(ctx context.Context, info *models.RepositoryInfo) error
	List(ctx context.Context) ([]*models.RepositoryInfo, error)
	Delete(ctx context.Context, fullName string) error
	Clear(ctx context.Context) error
}

// Options are the caller-supplied force overrides for one index run.
type Options struct {
	// ForceRefresh reruns everything from scratch, implying the other
	// three flags.
	ForceRefresh bool

	// ForceDownload, ForceChunk, and ForceEmbed rerun individual stages
	// even when their persisted flags report success.
	ForceDownload bool
	ForceChunk    bool
	ForceEmbed    bool
}

// Service runs the indexing pipeline and answers search queries.
type Service struct {
	fetcher fetch.Fetcher
	chunker *chunker.TextChunker
	states  StateStore
	chunks  store.Store
	logger  *zap.Logger

	// locks holds one indexLock per repository full name.
	locks sync.Map
}

// New creates an indexing service.
func New(fetcher fetch.Fetcher, textChunker *chunker.TextChunker, states StateStore, chunks store.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		fetcher: fetcher,
		chunker: textChunker,
		states:  states,
		chunks:  chunks,
		logger:  logger.Named("indexer"),
	}
}

func (s *Service) lockFor(fullName string) *indexLock {
	l, _ := s.locks.LoadOrStore(fullName, &indexLock{})
	return l.(*indexLock)
}

// Index brings one repository's index up to date and returns the resulting
// state. Identity resolution failures persist nothing; once a snapshot
// identity is known, every stage outcome is persisted before returning, so a
// failed run leaves a state the next run resumes from.
func (s *Service) Index(ctx context.Context, repository string, opts Options) (*models.RepositoryInfo, error) {
	ctx, span := tracer.Start(ctx, "Service.Index")
	defer span.End()
	span.SetAttributes(attribute.String("repository", repository))

	owner, name, err := models.ParseFullName(repository)
	if err != nil {
		return nil, err
	}

	lock := s.lockFor(repository)
	if !lock.tryAcquire() {
		return nil, fmt.Errorf("%w: %s", ErrIndexInProgress, repository)
	}
	defer lock.release()

	identity, err := s.fetcher.ResolveIdentity(ctx, repository)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	prior, err := s.states.Get(ctx, repository)
	if err != nil {
		return nil, err
	}

	plan := planner.Decide(prior, identity.CommitHash, planner.Options{
		ForceRefresh:  opts.ForceRefresh,
		ForceDownload: opts.ForceDownload,
		ForceChunk:    opts.ForceChunk,
		ForceEmbed:    opts.ForceEmbed,
	})

	s.logger.Info("index run planned",
		zap.String("repository", repository),
		zap.String("commit", identity.CommitHash),
		zap.Bool("download", plan.Download),
		zap.Stringer("chunk", plan.Chunk),
		zap.Bool("embed", plan.Embed))

	if plan.NoOp() {
		span.SetStatus(codes.Ok, "up to date")
		return prior, nil
	}

	var info *models.RepositoryInfo
	if prior != nil {
		info = prior.Clone()
	} else {
		info = &models.RepositoryInfo{Owner: owner, Name: name}
	}
	info.URL = identity.URL

	run := &indexRun{
		service:  s,
		info:     info,
		plan:     plan,
		identity: identity,
	}
	defer run.cleanup()

	if err := run.execute(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "indexed")
	return run.info, nil
}

// indexRun carries the working state of one pipeline execution.
type indexRun struct {
	service  *Service
	info     *models.RepositoryInfo
	plan     planner.Plan
	identity fetch.Identity

	// scratch is the snapshot directory, set once content is materialized.
	scratch string

	// changes is the file diff computed after a recorded download. Only
	// meaningful for a diff-scoped chunk stage.
	changes diff.ChangeSet

	// pending holds the chunks produced by the chunk stage, awaiting embed.
	pending []models.DocumentChunk
}

func (r *indexRun) cleanup() {
	if r.scratch == "" {
		return
	}
	if err := os.RemoveAll(r.scratch); err != nil {
		r.service.logger.Warn("failed to remove snapshot directory",
			zap.String("path", r.scratch),
			zap.Error(err))
	}
}

func (r *indexRun) execute(ctx context.Context) error {
	if r.plan.Download {
		if err := r.download(ctx); err != nil {
			return err
		}
	}
	if r.plan.Chunk != planner.ChunkSkip {
		if err := r.chunk(ctx); err != nil {
			return err
		}
	}
	if r.plan.Embed {
		if err := r.embed(ctx); err != nil {
			return err
		}
	}
	return nil
}

// persist saves the working state. Persistence failures surface as run
// failures even when the stage itself succeeded.
func (r *indexRun) persist(ctx context.Context) error {
	if err := r.service.states.Put(ctx, r.info); err != nil {
		return fmt.Errorf("persisting state for %s: %w", r.info.FullName(), err)
	}
	return nil
}

// materialize fetches the repository contents into a scratch directory.
func (r *indexRun) materialize(ctx context.Context) (*fetch.Snapshot, error) {
	dir, err := os.MkdirTemp("", "reposearch-*")
	if err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	r.scratch = dir

	snapshot, err := r.service.fetcher.FetchContents(ctx, r.info.FullName(), r.identity, dir)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// download runs the recorded download stage: materialize content, diff the
// new file hashes against the prior ones, and persist the outcome. A rerun
// download invalidates the chunk and embed flags.
func (r *indexRun) download(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "indexRun.download")
	defer span.End()

	oldHashes := r.info.FileHashes

	snapshot, err := r.materialize(ctx)
	if err != nil {
		span.RecordError(err)
		r.info.CommitHash = r.identity.CommitHash
		r.info.DownloadOK = false
		r.info.ChunkOK = false
		r.info.EmbedOK = false
		if perr := r.persist(ctx); perr != nil {
			return perr
		}
		return err
	}

	r.changes = diff.Compute(oldHashes, snapshot.FileHashes)

	r.info.CommitHash = snapshot.CommitHash
	r.info.FileHashes = snapshot.FileHashes
	r.info.NumFiles = snapshot.NumFiles
	r.info.DownloadOK = true
	r.info.ChunkOK = false
	r.info.EmbedOK = false

	r.service.logger.Info("download stage complete",
		zap.String("repository", r.info.FullName()),
		zap.Int("files", snapshot.NumFiles),
		zap.Int("changed", len(r.changes.Changed)),
		zap.Int("deleted", len(r.changes.Deleted)),
		zap.Int("unchanged", len(r.changes.Unchanged)))

	return r.persist(ctx)
}

// chunk runs the chunk stage. A full scope drops every stored chunk of the
// repository and re-chunks the whole snapshot; a diff scope removes chunks
// of deleted and changed files, then re-chunks only the changed ones.
//
// When the plan skipped the download stage, content is materialized here as
// a prerequisite; a fetch failure is then a chunk failure, not a download
// failure, and does not touch the persisted file hashes.
func (r *indexRun) chunk(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "indexRun.chunk")
	defer span.End()
	span.SetAttributes(attribute.Stringer("scope", r.plan.Chunk))

	fail := func(err error) error {
		span.RecordError(err)
		r.info.ChunkOK = false
		r.info.EmbedOK = false
		if perr := r.persist(ctx); perr != nil {
			return perr
		}
		return err
	}

	if r.scratch == "" {
		if _, err := r.materialize(ctx); err != nil {
			return fail(err)
		}
	}

	fullName := r.info.FullName()

	switch r.plan.Chunk {
	case planner.ChunkFull:
		if err := r.service.chunks.DeleteRepositoryChunks(ctx, fullName); err != nil {
			return fail(fmt.Errorf("clearing stored chunks: %w", err))
		}
		chunks, err := r.service.chunker.ChunkAll(fullName, r.scratch)
		if err != nil {
			return fail(err)
		}
		r.pending = chunks

	case planner.ChunkDiff:
		for _, path := range r.changes.Deleted {
			if err := r.service.chunks.DeleteFileChunks(ctx, fullName, path); err != nil {
				return fail(fmt.Errorf("removing chunks of deleted file %s: %w", path, err))
			}
		}
		for _, path := range r.changes.Changed {
			if err := r.service.chunks.DeleteFileChunks(ctx, fullName, path); err != nil {
				return fail(fmt.Errorf("removing stale chunks of %s: %w", path, err))
			}
			chunks, err := r.service.chunker.ChunkPath(fullName, r.scratch, path)
			if err != nil {
				// Undecodable or unreadable files are skipped, not fatal.
				r.service.logger.Warn("skipping file during chunking",
					zap.String("repository", fullName),
					zap.String("path", path),
					zap.Error(err))
				continue
			}
			r.pending = append(r.pending, chunks...)
		}
	}

	r.info.ChunkOK = true
	r.info.EmbedOK = false

	r.service.logger.Info("chunk stage complete",
		zap.String("repository", fullName),
		zap.Stringer("scope", r.plan.Chunk),
		zap.Int("chunks", len(r.pending)))

	return r.persist(ctx)
}

// embed runs the embed stage: store the pending chunks with their vectors
// and mark the repository fully indexed.
//
// When the plan skipped the chunk stage (a prior run chunked successfully
// but failed to embed), the same chunks are reproduced here by re-chunking
// the snapshot; chunk IDs are deterministic, so the upsert converges on the
// state the prior run intended. Failures in that reproduction are embed
// failures and leave the chunk flag intact.
func (r *indexRun) embed(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "indexRun.embed")
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		r.info.EmbedOK = false
		if perr := r.persist(ctx); perr != nil {
			return perr
		}
		return err
	}

	fullName := r.info.FullName()

	if r.plan.Chunk == planner.ChunkSkip {
		if r.scratch == "" {
			if _, err := r.materialize(ctx); err != nil {
				return fail(err)
			}
		}
		chunks, err := r.service.chunker.ChunkAll(fullName, r.scratch)
		if err != nil {
			return fail(err)
		}
		r.pending = chunks
	}

	if len(r.pending) > 0 {
		if err := r.service.chunks.StoreChunks(ctx, r.pending); err != nil {
			return fail(err)
		}
	}

	r.updateChunkCounts()

	now := time.Now().UTC()
	r.info.EmbedOK = true
	r.info.LastIndexed = &now

	r.service.logger.Info("embed stage complete",
		zap.String("repository", fullName),
		zap.Int("chunks", len(r.pending)))

	return r.persist(ctx)
}

// updateChunkCounts reconciles the per-file chunk counts with what the embed
// stage just stored. A diff scope touched only the changed and deleted files,
// so only their entries move; any other scope replaced the repository's
// stored set outright. NumChunks is the sum, so it stays exact across
// file-scoped runs.
func (r *indexRun) updateChunkCounts() {
	counts := r.info.ChunkCounts
	if r.plan.Chunk == planner.ChunkDiff && counts != nil {
		for _, path := range r.changes.Deleted {
			delete(counts, path)
		}
		for _, path := range r.changes.Changed {
			delete(counts, path)
		}
	} else {
		counts = nil
	}
	if counts == nil {
		counts = make(map[string]int)
	}
	for _, ch := range r.pending {
		counts[ch.Metadata.FilePath]++
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	r.info.ChunkCounts = counts
	r.info.NumChunks = total
}

// Search performs similarity search over indexed chunks. An empty repository
// searches across all indexed repositories.
func (s *Service) Search(ctx context.Context, query, repository string, limit int, scoreThreshold float32) ([]models.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Service.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("repository", repository),
		attribute.Int("limit", limit),
	)

	if repository != "" {
		if _, _, err := models.ParseFullName(repository); err != nil {
			return nil, err
		}
	}

	results, err := s.chunks.Search(ctx, query, repository, limit, scoreThreshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Repositories lists the indexing state of every known repository.
func (s *Service) Repositories(ctx context.Context) ([]*models.RepositoryInfo, error) {
	return s.states.List(ctx)
}

// Get returns the indexing state of one repository, or nil if unknown.
func (s *Service) Get(ctx context.Context, repository string) (*models.RepositoryInfo, error) {
	if _, _, err := models.ParseFullName(repository); err != nil {
		return nil, err
	}
	return s.states.Get(ctx, repository)
}

// Delete removes a repository's chunks and state.
func (s *Service) Delete(ctx context.Context, repository string) error {
	if _, _, err := models.ParseFullName(repository); err != nil {
		return err
	}
	if err := s.chunks.DeleteRepositoryChunks(ctx, repository); err != nil {
		return err
	}
	return s.states.Delete(ctx, repository)
}

// Clear removes all indexed chunks and all repository state.
func (s *Service) Clear(ctx context.Context) error {
	infos, err := s.states.List(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := s.chunks.DeleteRepositoryChunks(ctx, info.FullName()); err != nil {
			return err
		}
	}
	return s.states.Clear(ctx)
}
