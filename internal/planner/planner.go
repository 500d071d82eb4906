// Package planner decides which indexing stages must run for a repository.
//
// The decision is a pure function of the previously persisted state, the
// freshly observed commit identity, and the caller's force flags. It performs
// no I/O; the indexer executes the resulting plan and owns all state
// transitions. This keeps the stage-dependency logic unit-testable without
// any collaborator.
package planner

import "github.com/fyrsmithlabs/reposearch/internal/models"

// ChunkScope names how much of the file set the chunk stage must process.
type ChunkScope int

const (
	// ChunkSkip means the chunk stage does not run.
	ChunkSkip ChunkScope = iota

	// ChunkDiff means chunking is scoped to the files that changed between
	// the persisted file hashes and the freshly downloaded snapshot, with
	// chunks of deleted files removed.
	ChunkDiff

	// ChunkFull means the entire current file set is re-chunked and all
	// previously persisted chunks for the repository are dropped first.
	ChunkFull
)

// String implements fmt.Stringer for log output.
func (s ChunkScope) String() string {
	switch s {
	case ChunkDiff:
		return "diff"
	case ChunkFull:
		return "full"
	default:
		return "skip"
	}
}

// Options are the caller-supplied force overrides. ForceRefresh implies the
// other three.
type Options struct {
	ForceRefresh  bool
	ForceDownload bool
	ForceChunk    bool
	ForceEmbed    bool
}

// Plan names the stages a run must execute. Stages are strictly ordered
// download → chunk → embed; a stage that runs always requires its
// downstream stages.
type Plan struct {
	// Download reports whether the download stage runs as a recorded stage
	// (updating file hashes and the download flag).
	Download bool

	// Chunk is the chunk stage scope.
	Chunk ChunkScope

	// Embed reports whether the embed stage runs.
	Embed bool
}

// NoOp reports whether the plan requires no work at all. The executor
// returns the prior state unchanged for a no-op plan.
func (p Plan) NoOp() bool {
	return !p.Download && p.Chunk == ChunkSkip && !p.Embed
}

// Decide computes the stage plan for one indexing run.
//
// prior is the persisted state from the last run, or nil if the repository
// was never indexed. commitHash is the freshly resolved snapshot identity.
//
// The cases are evaluated top to bottom; the first terminal case wins:
//
//  1. No prior state, a different commit hash, or a forced refresh: the
//     content identity changed wholesale (or there is no basis for
//     comparison), so everything runs and chunking is full.
//  2. Same commit hash: each stage reruns if forced or if its prior flag is
//     false. A rerun download invalidates chunk and embed even under an
//     unchanged commit hash, because the persisted file set may reflect a
//     partial failure; its chunk scope is the post-download diff unless a
//     full chunk was separately forced. A rerun chunk with no fresh diff
//     basis is always full.
func Decide(prior *models.RepositoryInfo, commitHash string, opts Options) Plan {
	if opts.ForceRefresh {
		opts.ForceDownload = true
		opts.ForceChunk = true
		opts.ForceEmbed = true
	}

	// Case 1: nothing to resume from, or the snapshot identity changed.
	if prior == nil || prior.CommitHash == "" || prior.CommitHash != commitHash || opts.ForceRefresh {
		return Plan{Download: true, Chunk: ChunkFull, Embed: true}
	}

	// Case 2: same commit. Each stage is evaluated only if its upstream
	// stage is skipped.
	if opts.ForceDownload || !prior.DownloadOK {
		scope := ChunkDiff
		if opts.ForceChunk {
			scope = ChunkFull
		}
		return Plan{Download: true, Chunk: scope, Embed: true}
	}

	if opts.ForceChunk || !prior.ChunkOK {
		return Plan{Chunk: ChunkFull, Embed: true}
	}

	if opts.ForceEmbed || !prior.EmbedOK {
		return Plan{Embed: true}
	}

	return Plan{}
}
