package state_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reposearch/internal/models"
	"github.com/fyrsmithlabs/reposearch/internal/state"
)

func openStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetUnknownRepositoryReturnsNil(t *testing.T) {
	s := openStore(t)

	info, err := s.Get(context.Background(), "octo/unknown")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestPutAndGetRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	indexed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	in := &models.RepositoryInfo{
		Owner:      "octo",
		Name:       "demo",
		URL:        "https://github.com/octo/demo",
		CommitHash: "abc123",
		FileHashes: map[string]string{
			"main.go":   "h1",
			"README.md": "h2",
		},
		ChunkCounts: map[string]int{
			"main.go":   3,
			"README.md": 4,
		},
		NumFiles:    2,
		NumChunks:   7,
		DownloadOK:  true,
		ChunkOK:     true,
		EmbedOK:     true,
		LastIndexed: &indexed,
	}
	require.NoError(t, s.Put(ctx, in))

	out, err := s.Get(ctx, "octo/demo")
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, in.Owner, out.Owner)
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.CommitHash, out.CommitHash)
	assert.Equal(t, in.FileHashes, out.FileHashes)
	assert.Equal(t, in.ChunkCounts, out.ChunkCounts)
	assert.Equal(t, in.NumFiles, out.NumFiles)
	assert.Equal(t, in.NumChunks, out.NumChunks)
	assert.True(t, out.DownloadOK)
	assert.True(t, out.ChunkOK)
	assert.True(t, out.EmbedOK)
	require.NotNil(t, out.LastIndexed)
	assert.True(t, indexed.Equal(*out.LastIndexed))
}

func TestPutUpsertsInPlace(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first := &models.RepositoryInfo{
		Owner: "octo", Name: "demo",
		CommitHash: "aaa",
		FileHashes: map[string]string{"a.go": "1"},
		DownloadOK: true,
	}
	require.NoError(t, s.Put(ctx, first))

	second := first.Clone()
	second.CommitHash = "bbb"
	second.FileHashes["b.go"] = "2"
	second.ChunkOK = true
	require.NoError(t, s.Put(ctx, second))

	out, err := s.Get(ctx, "octo/demo")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "bbb", out.CommitHash)
	assert.Len(t, out.FileHashes, 2)
	assert.True(t, out.ChunkOK)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1, "upsert must not create a second row")
}

func TestPartialStateSurvivesRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	in := &models.RepositoryInfo{
		Owner: "octo", Name: "demo",
		CommitHash: "abc",
		FileHashes: map[string]string{"main.go": "h1"},
		DownloadOK: true,
		ChunkOK:    false,
		EmbedOK:    false,
	}
	require.NoError(t, s.Put(ctx, in))

	out, err := s.Get(ctx, "octo/demo")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.DownloadOK)
	assert.False(t, out.ChunkOK)
	assert.False(t, out.EmbedOK)
	assert.False(t, out.FullyIndexed())
	assert.Nil(t, out.LastIndexed)
}

func TestListOrdersByFullName(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.Put(ctx, &models.RepositoryInfo{Owner: "octo", Name: name}))
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "octo/alpha", list[0].FullName())
	assert.Equal(t, "octo/mid", list[1].FullName())
	assert.Equal(t, "octo/zeta", list[2].FullName())
}

func TestDeleteAndClear(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &models.RepositoryInfo{Owner: "octo", Name: "a"}))
	require.NoError(t, s.Put(ctx, &models.RepositoryInfo{Owner: "octo", Name: "b"}))

	require.NoError(t, s.Delete(ctx, "octo/a"))
	require.NoError(t, s.Delete(ctx, "octo/missing"), "deleting unknown repository is not an error")

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Clear(ctx))
	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
