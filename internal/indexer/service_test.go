package indexer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposearch/internal/chunker"
	"github.com/fyrsmithlabs/reposearch/internal/fetch"
	"github.com/fyrsmithlabs/reposearch/internal/indexer"
	"github.com/fyrsmithlabs/reposearch/internal/models"
)

// fakeFetcher serves a configurable in-memory snapshot.
type fakeFetcher struct {
	mu         sync.Mutex
	commit     string
	files      map[string]string // path -> content
	hashes     map[string]string // path -> content hash
	resolveErr error
	fetchErr   error
	fetchCalls int
}

func (f *fakeFetcher) ResolveIdentity(ctx context.Context, fullName string) (fetch.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return fetch.Identity{}, f.resolveErr
	}
	return fetch.Identity{CommitHash: f.commit, URL: "https://github.com/" + fullName}, nil
}

func (f *fakeFetcher) FetchContents(ctx context.Context, fullName string, identity fetch.Identity, destDir string) (*fetch.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	for path, content := range f.files {
		full := filepath.Join(destDir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return nil, err
		}
	}
	hashes := make(map[string]string, len(f.hashes))
	for k, v := range f.hashes {
		hashes[k] = v
	}
	return &fetch.Snapshot{
		CommitHash: f.commit,
		Root:       destDir,
		FileHashes: hashes,
		NumFiles:   len(hashes),
	}, nil
}

// fakeStates is an in-memory StateStore.
type fakeStates struct {
	mu    sync.Mutex
	infos map[string]*models.RepositoryInfo
}

func newFakeStates() *fakeStates {
	return &fakeStates{infos: make(map[string]*models.RepositoryInfo)}
}

func (s *fakeStates) Get(ctx context.Context, fullName string) (*models.RepositoryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.infos[fullName]
	if !ok {
		return nil, nil
	}
	return info.Clone(), nil
}

func (s *fakeStates) Put(ctx context.Context, info *models.RepositoryInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos[info.FullName()] = info.Clone()
	return nil
}

func (s *fakeStates) List(ctx context.Context) ([]*models.RepositoryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.RepositoryInfo, 0, len(s.infos))
	for _, info := range s.infos {
		out = append(out, info.Clone())
	}
	return out, nil
}

func (s *fakeStates) Delete(ctx context.Context, fullName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.infos, fullName)
	return nil
}

func (s *fakeStates) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos = make(map[string]*models.RepositoryInfo)
	return nil
}

// fakeChunks is an in-memory chunk store recording delete operations.
type fakeChunks struct {
	mu            sync.Mutex
	stored        map[string]models.DocumentChunk
	deletedFiles  []string
	repoDeletes   int
	storeErr      error
	deleteRepoErr error
	searchResults []models.SearchResult
}

func newFakeChunks() *fakeChunks {
	return &fakeChunks{stored: make(map[string]models.DocumentChunk)}
}

func (c *fakeChunks) StoreChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storeErr != nil {
		return c.storeErr
	}
	for _, ch := range chunks {
		c.stored[ch.ID] = ch
	}
	return nil
}

func (c *fakeChunks) DeleteFileChunks(ctx context.Context, repository, filePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletedFiles = append(c.deletedFiles, filePath)
	for id, ch := range c.stored {
		if ch.Repository == repository && ch.Metadata.FilePath == filePath {
			delete(c.stored, id)
		}
	}
	return nil
}

func (c *fakeChunks) DeleteRepositoryChunks(ctx context.Context, repository string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteRepoErr != nil {
		return c.deleteRepoErr
	}
	c.repoDeletes++
	for id, ch := range c.stored {
		if ch.Repository == repository {
			delete(c.stored, id)
		}
	}
	return nil
}

func (c *fakeChunks) Search(ctx context.Context, query, repository string, limit int, scoreThreshold float32) ([]models.SearchResult, error) {
	return c.searchResults, nil
}

func (c *fakeChunks) Close() error { return nil }

func (c *fakeChunks) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stored)
}

func (c *fakeChunks) paths() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool)
	for _, ch := range c.stored {
		out[ch.Metadata.FilePath] = true
	}
	return out
}

func (c *fakeChunks) contentOf(path string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var parts []string
	for _, ch := range c.stored {
		if ch.Metadata.FilePath == path {
			parts = append(parts, ch.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func newService(fetcher fetch.Fetcher, states indexer.StateStore, chunks *fakeChunks) *indexer.Service {
	c := chunker.New(chunker.Config{ChunkSize: 1000, ChunkOverlap: 100}, zap.NewNop())
	return indexer.New(fetcher, c, states, chunks, zap.NewNop())
}

func TestIndexFirstRun(t *testing.T) {
	fetcher := &fakeFetcher{
		commit: "c1",
		files:  map[string]string{"main.go": "package main\n", "README.md": "# Demo\nwords\n"},
		hashes: map[string]string{"main.go": "h1", "README.md": "h2"},
	}
	states := newFakeStates()
	chunks := newFakeChunks()
	svc := newService(fetcher, states, chunks)

	info, err := svc.Index(context.Background(), "octo/demo", indexer.Options{})
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.True(t, info.FullyIndexed())
	assert.Equal(t, "c1", info.CommitHash)
	assert.Equal(t, 2, info.NumFiles)
	assert.Equal(t, map[string]string{"main.go": "h1", "README.md": "h2"}, info.FileHashes)
	assert.NotNil(t, info.LastIndexed)
	assert.Equal(t, len(chunks.stored), info.NumChunks)

	paths := chunks.paths()
	assert.True(t, paths["main.go"])
	assert.True(t, paths["README.md"])

	persisted, err := states.Get(context.Background(), "octo/demo")
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.True(t, persisted.FullyIndexed())
}

func TestIndexUnchangedCommitIsNoOp(t *testing.T) {
	fetcher := &fakeFetcher{
		commit: "c1",
		files:  map[string]string{"main.go": "package main\n"},
		hashes: map[string]string{"main.go": "h1"},
	}
	states := newFakeStates()
	chunks := newFakeChunks()
	svc := newService(fetcher, states, chunks)
	ctx := context.Background()

	_, err := svc.Index(ctx, "octo/demo", indexer.Options{})
	require.NoError(t, err)
	firstFetches := fetcher.fetchCalls

	info, err := svc.Index(ctx, "octo/demo", indexer.Options{})
	require.NoError(t, err)
	assert.True(t, info.FullyIndexed())
	assert.Equal(t, firstFetches, fetcher.fetchCalls, "no content fetch on a no-op run")
	assert.Equal(t, 1, chunks.repoDeletes, "chunk store untouched on a no-op run")
}

func TestIndexCommitChangedRunsFullPipeline(t *testing.T) {
	fetcher := &fakeFetcher{
		commit: "c1",
		files:  map[string]string{"old.go": "package old\n"},
		hashes: map[string]string{"old.go": "h1"},
	}
	states := newFakeStates()
	chunks := newFakeChunks()
	svc := newService(fetcher, states, chunks)
	ctx := context.Background()

	_, err := svc.Index(ctx, "octo/demo", indexer.Options{})
	require.NoError(t, err)

	fetcher.commit = "c2"
	fetcher.files = map[string]string{"new.go": "package new\n"}
	fetcher.hashes = map[string]string{"new.go": "h2"}

	info, err := svc.Index(ctx, "octo/demo", indexer.Options{})
	require.NoError(t, err)
	assert.Equal(t, "c2", info.CommitHash)
	assert.True(t, info.FullyIndexed())
	assert.Equal(t, 2, chunks.repoDeletes, "full re-chunk drops the repository's chunks first")

	paths := chunks.paths()
	assert.True(t, paths["new.go"])
	assert.False(t, paths["old.go"], "chunks of the old snapshot must be gone")
}

func TestIndexResolveFailurePersistsNothing(t *testing.T) {
	fetcher := &fakeFetcher{resolveErr: errors.New("repository not found")}
	states := newFakeStates()
	svc := newService(fetcher, states, newFakeChunks())

	_, err := svc.Index(context.Background(), "octo/demo", indexer.Options{})
	require.Error(t, err)

	info, err := states.Get(context.Background(), "octo/demo")
	require.NoError(t, err)
	assert.Nil(t, info, "identity resolution failure must persist nothing")
}

func TestIndexDownloadFailurePersistsStateAndResumes(t *testing.T) {
	fetcher := &fakeFetcher{
		commit:   "c1",
		fetchErr: errors.New("network down"),
	}
	states := newFakeStates()
	chunks := newFakeChunks()
	svc := newService(fetcher, states, chunks)
	ctx := context.Background()

	_, err := svc.Index(ctx, "octo/demo", indexer.Options{})
	require.Error(t, err)

	info, err := states.Get(ctx, "octo/demo")
	require.NoError(t, err)
	require.NotNil(t, info, "a failed download still persists resumable state")
	assert.Equal(t, "c1", info.CommitHash)
	assert.False(t, info.DownloadOK)
	assert.False(t, info.ChunkOK)
	assert.False(t, info.EmbedOK)

	// The retry under the same commit reruns the download and completes.
	fetcher.fetchErr = nil
	fetcher.files = map[string]string{"main.go": "package main\n"}
	fetcher.hashes = map[string]string{"main.go": "h1"}

	info, err = svc.Index(ctx, "octo/demo", indexer.Options{})
	require.NoError(t, err)
	assert.True(t, info.FullyIndexed())
	assert.True(t, chunks.paths()["main.go"])
}

func TestIndexChunkFailurePersistsStateAndResumes(t *testing.T) {
	fetcher := &fakeFetcher{
		commit: "c1",
		files:  map[string]string{"main.go": "package main\n"},
		hashes: map[string]string{"main.go": "h1"},
	}
	states := newFakeStates()
	chunks := newFakeChunks()
	chunks.deleteRepoErr = errors.New("store unavailable")
	svc := newService(fetcher, states, chunks)
	ctx := context.Background()

	_, err := svc.Index(ctx, "octo/demo", indexer.Options{})
	require.Error(t, err)

	info, err := states.Get(ctx, "octo/demo")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, info.DownloadOK, "download succeeded and stays recorded")
	assert.False(t, info.ChunkOK)
	assert.False(t, info.EmbedOK)

	// The retry skips the download and re-chunks in full.
	chunks.deleteRepoErr = nil
	fetchesBefore := fetcher.fetchCalls

	info, err = svc.Index(ctx, "octo/demo", indexer.Options{})
	require.NoError(t, err)
	assert.True(t, info.FullyIndexed())
	assert.Equal(t, fetchesBefore+1, fetcher.fetchCalls, "content is materialized for the chunk stage")
}

func TestIndexEmbedFailurePersistsStateAndResumes(t *testing.T) {
	fetcher := &fakeFetcher{
		commit: "c1",
		files:  map[string]string{"main.go": "package main\n"},
		hashes: map[string]string{"main.go": "h1"},
	}
	states := newFakeStates()
	chunks := newFakeChunks()
	chunks.storeErr = errors.New("embedding service down")
	svc := newService(fetcher, states, chunks)
	ctx := context.Background()

	_, err := svc.Index(ctx, "octo/demo", indexer.Options{})
	require.Error(t, err)

	info, err := states.Get(ctx, "octo/demo")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, info.DownloadOK)
	assert.True(t, info.ChunkOK, "chunking succeeded and stays recorded")
	assert.False(t, info.EmbedOK)

	// The retry runs only the embed stage, reproducing identical chunks.
	chunks.storeErr = nil

	info, err = svc.Index(ctx, "octo/demo", indexer.Options{})
	require.NoError(t, err)
	assert.True(t, info.FullyIndexed())
	assert.True(t, chunks.paths()["main.go"])
}

func TestIndexForcedDownloadChunksOnlyChangedFiles(t *testing.T) {
	fetcher := &fakeFetcher{
		commit: "c1",
		files:  map[string]string{"changed.go": "package a\n", "same.go": "package b\n", "gone.go": "package c\n"},
		hashes: map[string]string{"changed.go": "h1", "same.go": "h2", "gone.go": "h3"},
	}
	states := newFakeStates()
	chunks := newFakeChunks()
	svc := newService(fetcher, states, chunks)
	ctx := context.Background()

	_, err := svc.Index(ctx, "octo/demo", indexer.Options{})
	require.NoError(t, err)

	// Same commit, but the snapshot content drifted: one file changed,
	// one deleted, one untouched.
	fetcher.files = map[string]string{"changed.go": "package a2\n", "same.go": "package b\n"}
	fetcher.hashes = map[string]string{"changed.go": "h1b", "same.go": "h2"}

	info, err := svc.Index(ctx, "octo/demo", indexer.Options{ForceDownload: true})
	require.NoError(t, err)
	assert.True(t, info.FullyIndexed())

	assert.ElementsMatch(t, []string{"changed.go", "gone.go"}, chunks.deletedFiles,
		"only changed and deleted files have their chunks removed")
	assert.Equal(t, 1, chunks.repoDeletes, "diff scope never clears the whole repository")

	paths := chunks.paths()
	assert.True(t, paths["same.go"], "unchanged file's chunks survive")
	assert.False(t, paths["gone.go"])
	assert.Contains(t, chunks.contentOf("changed.go"), "package a2")
	assert.Equal(t, chunks.count(), info.NumChunks,
		"chunk count stays exact when only part of the stored set is replaced")
}

func TestIndexForcedDownloadWithIdenticalSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{
		commit: "c1",
		files:  map[string]string{"main.go": "package main\n"},
		hashes: map[string]string{"main.go": "h1"},
	}
	states := newFakeStates()
	chunks := newFakeChunks()
	svc := newService(fetcher, states, chunks)
	ctx := context.Background()

	first, err := svc.Index(ctx, "octo/demo", indexer.Options{})
	require.NoError(t, err)
	storedBefore := chunks.count()

	// The re-download finds nothing changed, so the chunk stage has an
	// empty scope. It must still complete and leave the store untouched.
	info, err := svc.Index(ctx, "octo/demo", indexer.Options{ForceDownload: true})
	require.NoError(t, err)

	assert.True(t, info.ChunkOK, "an empty chunk scope still completes the stage")
	assert.True(t, info.FullyIndexed())
	assert.Equal(t, first.NumChunks, info.NumChunks)
	assert.Equal(t, storedBefore, chunks.count())
	assert.Empty(t, chunks.deletedFiles, "no file had its chunks removed")
	assert.Equal(t, 1, chunks.repoDeletes, "the store is never cleared")

	persisted, err := states.Get(ctx, "octo/demo")
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.True(t, persisted.FullyIndexed())
}

func TestIndexForceRefreshRechunksEverything(t *testing.T) {
	fetcher := &fakeFetcher{
		commit: "c1",
		files:  map[string]string{"main.go": "package main\n"},
		hashes: map[string]string{"main.go": "h1"},
	}
	states := newFakeStates()
	chunks := newFakeChunks()
	svc := newService(fetcher, states, chunks)
	ctx := context.Background()

	_, err := svc.Index(ctx, "octo/demo", indexer.Options{})
	require.NoError(t, err)

	info, err := svc.Index(ctx, "octo/demo", indexer.Options{ForceRefresh: true})
	require.NoError(t, err)
	assert.True(t, info.FullyIndexed())
	assert.Equal(t, 2, chunks.repoDeletes, "forced refresh re-chunks in full")
}

func TestIndexInvalidRepositoryName(t *testing.T) {
	svc := newService(&fakeFetcher{}, newFakeStates(), newFakeChunks())

	_, err := svc.Index(context.Background(), "not-a-repo", indexer.Options{})
	assert.ErrorIs(t, err, models.ErrInvalidRepository)
}

func TestIndexConcurrentRunsRejected(t *testing.T) {
	fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	svc := newService(fetcher, newFakeStates(), newFakeChunks())
	ctx := context.Background()

	errs := make(chan error, 1)
	go func() {
		_, err := svc.Index(ctx, "octo/demo", indexer.Options{})
		errs <- err
	}()

	<-fetcher.started
	_, err := svc.Index(ctx, "octo/demo", indexer.Options{})
	assert.ErrorIs(t, err, indexer.ErrIndexInProgress)

	close(fetcher.release)
	require.Error(t, <-errs)

	// The lock is released once the first run finishes.
	_, err = svc.Index(ctx, "octo/demo", indexer.Options{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, indexer.ErrIndexInProgress)
}

// blockingFetcher parks inside ResolveIdentity until released, then fails.
type blockingFetcher struct {
	started   chan struct{}
	release   chan struct{}
	startOnce sync.Once
}

func (f *blockingFetcher) ResolveIdentity(ctx context.Context, fullName string) (fetch.Identity, error) {
	f.startOnce.Do(func() { close(f.started) })
	<-f.release
	return fetch.Identity{}, errors.New("released")
}

func (f *blockingFetcher) FetchContents(ctx context.Context, fullName string, identity fetch.Identity, destDir string) (*fetch.Snapshot, error) {
	return nil, errors.New("unreachable")
}

func TestDeleteRemovesChunksAndState(t *testing.T) {
	fetcher := &fakeFetcher{
		commit: "c1",
		files:  map[string]string{"main.go": "package main\n"},
		hashes: map[string]string{"main.go": "h1"},
	}
	states := newFakeStates()
	chunks := newFakeChunks()
	svc := newService(fetcher, states, chunks)
	ctx := context.Background()

	_, err := svc.Index(ctx, "octo/demo", indexer.Options{})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "octo/demo"))

	assert.Empty(t, chunks.paths())
	info, err := svc.Get(ctx, "octo/demo")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestClearRemovesEverything(t *testing.T) {
	fetcher := &fakeFetcher{
		commit: "c1",
		files:  map[string]string{"main.go": "package main\n"},
		hashes: map[string]string{"main.go": "h1"},
	}
	states := newFakeStates()
	chunks := newFakeChunks()
	svc := newService(fetcher, states, chunks)
	ctx := context.Background()

	_, err := svc.Index(ctx, "octo/a", indexer.Options{})
	require.NoError(t, err)
	_, err = svc.Index(ctx, "octo/b", indexer.Options{})
	require.NoError(t, err)

	require.NoError(t, svc.Clear(ctx))

	assert.Empty(t, chunks.paths())
	infos, err := svc.Repositories(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestSearchValidatesRepositoryName(t *testing.T) {
	svc := newService(&fakeFetcher{}, newFakeStates(), newFakeChunks())

	_, err := svc.Search(context.Background(), "query", "not-a-repo", 10, 0)
	assert.ErrorIs(t, err, models.ErrInvalidRepository)
}
