// Package fetch retrieves repository snapshots: the latest commit identity
// and a local materialization of the repository's text files, with a
// per-file content hash for change detection.
//
// Two providers are available: "api" talks to the GitHub REST API and
// downloads blobs individually, "clone" performs a shallow git clone. Both
// report git blob SHAs as content hashes, so snapshots taken by either
// provider diff cleanly against each other.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Sentinel errors for snapshot retrieval.
var (
	// ErrResolve is returned when the repository identifier is malformed,
	// unknown, or inaccessible. Nothing was persisted or downloaded.
	ErrResolve = errors.New("failed to resolve repository")

	// ErrTransfer is returned when content download fails after the
	// identifier resolved successfully.
	ErrTransfer = errors.New("failed to fetch repository contents")
)

// Identity is a repository's resolved snapshot identity.
type Identity struct {
	// CommitHash is the head commit of the default branch.
	CommitHash string

	// URL is the repository's browse URL.
	URL string
}

// Snapshot describes a materialized repository snapshot.
type Snapshot struct {
	// CommitHash is the commit the snapshot content corresponds to.
	CommitHash string

	// Root is the directory the files were written to.
	Root string

	// FileHashes maps relative paths of the snapshot's text files to
	// their git blob SHA.
	FileHashes map[string]string

	// NumFiles is the number of files materialized under Root.
	NumFiles int
}

// Fetcher retrieves repository snapshots.
type Fetcher interface {
	// ResolveIdentity resolves fullName (owner/name) to its current
	// snapshot identity. Failures wrap ErrResolve.
	ResolveIdentity(ctx context.Context, fullName string) (Identity, error)

	// FetchContents materializes the repository's text files under
	// destDir and returns their content hashes. Failures wrap
	// ErrTransfer.
	FetchContents(ctx context.Context, fullName string, identity Identity, destDir string) (*Snapshot, error)
}

// Config selects and configures a snapshot provider.
type Config struct {
	// Provider is "api" or "clone".
	Provider string

	// Token authenticates requests; optional.
	Token string
}

// New creates the configured snapshot provider.
func New(cfg Config, logger *zap.Logger) (Fetcher, error) {
	switch cfg.Provider {
	case "api", "":
		return NewGitHubFetcher(cfg.Token, logger), nil
	case "clone":
		return NewCloneFetcher(cfg.Token, logger), nil
	default:
		return nil, fmt.Errorf("unknown fetch provider %q", cfg.Provider)
	}
}
