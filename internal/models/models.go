// Package models defines the shared data types for reposearch: repository
// indexing state, document chunks, and search results.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRepository is returned when a repository identifier is not in
// the owner/name format.
var ErrInvalidRepository = errors.New("invalid repository name, expected owner/name")

// RepositoryInfo is the persisted indexing state for one repository.
//
// The three stage flags record which pipeline stages completed without error
// on the current CommitHash. They are strictly ordered: ChunkOK implies
// DownloadOK, and EmbedOK implies ChunkOK. The pipeline persists this record
// after every stage transition so an interrupted run leaves a resumable state.
type RepositoryInfo struct {
	// Owner and Name identify the repository (owner/name).
	Owner string `json:"owner"`
	Name  string `json:"name"`

	// URL is the repository's browse URL.
	URL string `json:"url"`

	// CommitHash is the content snapshot the stage flags refer to.
	// Empty if the repository was never successfully downloaded.
	CommitHash string `json:"commit_hash,omitempty"`

	// FileHashes maps relative file paths to per-file content hashes as of
	// the last successful download. Used to diff snapshots between runs.
	FileHashes map[string]string `json:"file_hashes,omitempty"`

	// NumFiles and NumChunks are informational counters.
	NumFiles  int `json:"num_files"`
	NumChunks int `json:"num_chunks"`

	// ChunkCounts maps file paths to the number of stored chunks derived
	// from them, as of the last successful embed stage. It keeps NumChunks
	// exact when a file-scoped run replaces only part of the stored set.
	ChunkCounts map[string]int `json:"chunk_counts,omitempty"`

	// Stage completion flags for the current CommitHash.
	DownloadOK bool `json:"download_ok"`
	ChunkOK    bool `json:"chunk_ok"`
	EmbedOK    bool `json:"embed_ok"`

	// LastIndexed is the time of the last successful embed stage.
	LastIndexed *time.Time `json:"last_indexed,omitempty"`
}

// FullName returns the owner/name identifier.
func (r *RepositoryInfo) FullName() string {
	return r.Owner + "/" + r.Name
}

// FullyIndexed reports whether all three stages completed on CommitHash.
func (r *RepositoryInfo) FullyIndexed() bool {
	return r.DownloadOK && r.ChunkOK && r.EmbedOK
}

// Clone returns a deep copy, so callers can mutate working state without
// aliasing the persisted record's FileHashes map.
func (r *RepositoryInfo) Clone() *RepositoryInfo {
	out := *r
	if r.FileHashes != nil {
		out.FileHashes = make(map[string]string, len(r.FileHashes))
		for k, v := range r.FileHashes {
			out.FileHashes[k] = v
		}
	}
	if r.ChunkCounts != nil {
		out.ChunkCounts = make(map[string]int, len(r.ChunkCounts))
		for k, v := range r.ChunkCounts {
			out.ChunkCounts[k] = v
		}
	}
	if r.LastIndexed != nil {
		t := *r.LastIndexed
		out.LastIndexed = &t
	}
	return &out
}

// ParseFullName splits an owner/name identifier.
func ParseFullName(fullName string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepository, fullName)
	}
	return owner, name, nil
}

// ChunkType tags the chunking strategy that produced a chunk.
type ChunkType string

const (
	ChunkTypeCode     ChunkType = "code"
	ChunkTypeMarkdown ChunkType = "markdown"
	ChunkTypeText     ChunkType = "text"
)

// ChunkMetadata carries the descriptive attributes of a chunk.
type ChunkMetadata struct {
	// FilePath is the file the chunk was derived from, relative to the
	// repository root.
	FilePath string `json:"file_path"`

	// ChunkType is the strategy tag: code, markdown, or text.
	ChunkType ChunkType `json:"chunk_type"`

	// Sequence orders chunks within a file, starting at 0.
	Sequence int `json:"sequence"`

	// StartLine and EndLine are zero-based line bounds within the file.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// DocumentChunk is a retrievable unit of content derived from one source
// file. The embedding vector is assigned by the embed stage.
type DocumentChunk struct {
	// ID is a deterministic UUID derived from repository, file path and
	// line bounds, so re-chunking unchanged content produces stable IDs.
	ID string `json:"id"`

	// Repository is the owner/name identifier the chunk belongs to.
	Repository string `json:"repository"`

	// Content is the chunk text.
	Content string `json:"content"`

	Metadata ChunkMetadata `json:"metadata"`

	// Embedding is the vector assigned by the embed stage; nil until then.
	Embedding []float32 `json:"embedding,omitempty"`
}

// SearchResult is a chunk returned by similarity search.
type SearchResult struct {
	Chunk DocumentChunk `json:"chunk"`
	Score float32       `json:"score"`
}

// Source returns a human-readable origin description for the result.
func (s SearchResult) Source() string {
	m := s.Chunk.Metadata
	if m.FilePath == "" {
		return s.Chunk.Repository
	}
	if m.EndLine > 0 || m.StartLine > 0 {
		return fmt.Sprintf("%s - %s:%d-%d", s.Chunk.Repository, m.FilePath, m.StartLine, m.EndLine)
	}
	return fmt.Sprintf("%s - %s", s.Chunk.Repository, m.FilePath)
}
