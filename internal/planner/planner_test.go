package planner_test

import (
	"testing"

	"github.com/fyrsmithlabs/reposearch/internal/models"
	"github.com/fyrsmithlabs/reposearch/internal/planner"
	"github.com/stretchr/testify/assert"
)

func fullyIndexed(commit string) *models.RepositoryInfo {
	return &models.RepositoryInfo{
		Owner:      "golang",
		Name:       "go",
		CommitHash: commit,
		FileHashes: map[string]string{"main.go": "h1"},
		DownloadOK: true,
		ChunkOK:    true,
		EmbedOK:    true,
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name   string
		prior  *models.RepositoryInfo
		commit string
		opts   planner.Options
		want   planner.Plan
	}{
		{
			name:   "never indexed runs everything full",
			prior:  nil,
			commit: "c1",
			want:   planner.Plan{Download: true, Chunk: planner.ChunkFull, Embed: true},
		},
		{
			name:   "commit changed runs everything full",
			prior:  fullyIndexed("c1"),
			commit: "c2",
			want:   planner.Plan{Download: true, Chunk: planner.ChunkFull, Embed: true},
		},
		{
			name:   "prior never downloaded treated as first index",
			prior:  &models.RepositoryInfo{Owner: "golang", Name: "go"},
			commit: "c1",
			want:   planner.Plan{Download: true, Chunk: planner.ChunkFull, Embed: true},
		},
		{
			name:   "force refresh overrides unchanged commit",
			prior:  fullyIndexed("c1"),
			commit: "c1",
			opts:   planner.Options{ForceRefresh: true},
			want:   planner.Plan{Download: true, Chunk: planner.ChunkFull, Embed: true},
		},
		{
			name:   "fully indexed unchanged commit is a no-op",
			prior:  fullyIndexed("c1"),
			commit: "c1",
			want:   planner.Plan{},
		},
		{
			name: "failed download retries download with diff-scoped chunk",
			prior: &models.RepositoryInfo{
				CommitHash: "c1",
				FileHashes: map[string]string{"main.go": "h1"},
				DownloadOK: false,
			},
			commit: "c1",
			want:   planner.Plan{Download: true, Chunk: planner.ChunkDiff, Embed: true},
		},
		{
			name: "forced chunk during download rerun widens scope to full",
			prior: &models.RepositoryInfo{
				CommitHash: "c1",
				DownloadOK: false,
			},
			commit: "c1",
			opts:   planner.Options{ForceChunk: true},
			want:   planner.Plan{Download: true, Chunk: planner.ChunkFull, Embed: true},
		},
		{
			name: "failed chunk skips download and rechunks full",
			prior: &models.RepositoryInfo{
				CommitHash: "c1",
				DownloadOK: true,
				ChunkOK:    false,
			},
			commit: "c1",
			want:   planner.Plan{Download: false, Chunk: planner.ChunkFull, Embed: true},
		},
		{
			name: "failed embed reruns embed only",
			prior: &models.RepositoryInfo{
				CommitHash: "c1",
				DownloadOK: true,
				ChunkOK:    true,
				EmbedOK:    false,
			},
			commit: "c1",
			want:   planner.Plan{Embed: true},
		},
		{
			name:   "force download alone reruns download with diff scope",
			prior:  fullyIndexed("c1"),
			commit: "c1",
			opts:   planner.Options{ForceDownload: true},
			want:   planner.Plan{Download: true, Chunk: planner.ChunkDiff, Embed: true},
		},
		{
			name:   "force chunk alone skips download and rechunks full",
			prior:  fullyIndexed("c1"),
			commit: "c1",
			opts:   planner.Options{ForceChunk: true},
			want:   planner.Plan{Chunk: planner.ChunkFull, Embed: true},
		},
		{
			name:   "force embed alone reruns embed only",
			prior:  fullyIndexed("c1"),
			commit: "c1",
			opts:   planner.Options{ForceEmbed: true},
			want:   planner.Plan{Embed: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := planner.Decide(tt.prior, tt.commit, tt.opts)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanNoOp(t *testing.T) {
	assert.True(t, planner.Plan{}.NoOp())
	assert.False(t, planner.Plan{Download: true}.NoOp())
	assert.False(t, planner.Plan{Chunk: planner.ChunkDiff}.NoOp())
	assert.False(t, planner.Plan{Embed: true}.NoOp())
}

func TestChunkScopeString(t *testing.T) {
	assert.Equal(t, "skip", planner.ChunkSkip.String())
	assert.Equal(t, "diff", planner.ChunkDiff.String())
	assert.Equal(t, "full", planner.ChunkFull.String())
}
