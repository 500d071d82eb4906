package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/reposearch/internal/models"
)

// API request pacing. The authenticated core limit is 5000 requests per
// hour; the one-request-per-blob download loop would burn through it on a
// large tree without a limiter.
const (
	defaultRequestsPerSecond = 5
	defaultRequestBurst      = 10
)

// GitHubFetcher retrieves snapshots through the GitHub REST API.
//
// It enumerates the default branch's tree and downloads blobs individually,
// using each blob's SHA as the per-file content hash. This avoids cloning
// history for large repositories at the cost of one request per file.
type GitHubFetcher struct {
	client  *github.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewGitHubFetcher creates an API-based fetcher. An empty token uses
// anonymous access, which has stricter rate limits.
func NewGitHubFetcher(token string, logger *zap.Logger) *GitHubFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubFetcher{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultRequestBurst),
		logger:  logger.Named("fetch.github"),
	}
}

// ResolveIdentity resolves the repository's latest default-branch commit.
func (f *GitHubFetcher) ResolveIdentity(ctx context.Context, fullName string) (Identity, error) {
	owner, name, err := models.ParseFullName(fullName)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrResolve, err)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrResolve, err)
	}
	repo, _, err := f.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: getting repository %s: %v", ErrResolve, fullName, err)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrResolve, err)
	}
	commits, _, err := f.client.Repositories.ListCommits(ctx, owner, name, &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: listing commits for %s: %v", ErrResolve, fullName, err)
	}
	if len(commits) == 0 {
		return Identity{}, fmt.Errorf("%w: repository %s has no commits", ErrResolve, fullName)
	}

	return Identity{
		CommitHash: commits[0].GetSHA(),
		URL:        repo.GetHTMLURL(),
	}, nil
}

// FetchContents downloads the repository's text files at identity.CommitHash
// into destDir.
func (f *GitHubFetcher) FetchContents(ctx context.Context, fullName string, identity Identity, destDir string) (*Snapshot, error) {
	owner, name, err := models.ParseFullName(fullName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransfer, err)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	tree, _, err := f.client.Git.GetTree(ctx, owner, name, identity.CommitHash, true)
	if err != nil {
		return nil, fmt.Errorf("%w: getting tree for %s@%s: %v", ErrTransfer, fullName, identity.CommitHash, err)
	}
	if tree.GetTruncated() {
		f.logger.Warn("tree listing truncated by GitHub, snapshot may be incomplete",
			zap.String("repository", fullName))
	}

	hashes := make(map[string]string)
	downloaded := 0
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		path := entry.GetPath()
		if !IsTextPath(path, int64(entry.GetSize())) {
			continue
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransfer, err)
		}
		content, _, err := f.client.Git.GetBlobRaw(ctx, owner, name, entry.GetSHA())
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: downloading %s: %v", ErrTransfer, path, err)
			}
			// A single unreadable blob does not fail the snapshot.
			f.logger.Warn("skipping undownloadable file",
				zap.String("repository", fullName),
				zap.String("path", path),
				zap.Error(err))
			continue
		}

		if err := writeSnapshotFile(destDir, path, content); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransfer, err)
		}

		hashes[path] = entry.GetSHA()
		downloaded++
	}

	f.logger.Info("downloaded repository snapshot",
		zap.String("repository", fullName),
		zap.String("commit", identity.CommitHash),
		zap.Int("files", downloaded))

	return &Snapshot{
		CommitHash: identity.CommitHash,
		Root:       destDir,
		FileHashes: hashes,
		NumFiles:   downloaded,
	}, nil
}

// writeSnapshotFile writes content under root at the repository-relative
// path, rejecting paths that escape the snapshot directory.
func writeSnapshotFile(root, relPath string, content []byte) error {
	dest := filepath.Join(root, filepath.FromSlash(relPath))
	cleanRoot := filepath.Clean(root) + string(filepath.Separator)
	if !strings.HasPrefix(dest, cleanRoot) {
		return fmt.Errorf("path %q escapes snapshot root", relPath)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", relPath, err)
	}
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", relPath, err)
	}
	return nil
}
