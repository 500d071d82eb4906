package fetch

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposearch/internal/models"
)

// CloneFetcher retrieves snapshots with a shallow git clone.
//
// Content hashes are git blob SHAs taken from the head commit's tree, so
// they are directly comparable with hashes recorded by GitHubFetcher.
type CloneFetcher struct {
	token  string
	logger *zap.Logger
}

// NewCloneFetcher creates a clone-based fetcher.
func NewCloneFetcher(token string, logger *zap.Logger) *CloneFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloneFetcher{token: token, logger: logger.Named("fetch.clone")}
}

func (f *CloneFetcher) auth() *githttp.BasicAuth {
	if f.token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: f.token}
}

func cloneURL(fullName string) string {
	return "https://github.com/" + fullName + ".git"
}

// ResolveIdentity lists remote refs and resolves HEAD without cloning.
func (f *CloneFetcher) ResolveIdentity(ctx context.Context, fullName string) (Identity, error) {
	if _, _, err := models.ParseFullName(fullName); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrResolve, err)
	}

	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{cloneURL(fullName)},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: f.auth()})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: listing refs for %s: %v", ErrResolve, fullName, err)
	}

	hash, err := resolveHead(refs)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %s: %v", ErrResolve, fullName, err)
	}

	return Identity{
		CommitHash: hash,
		URL:        "https://github.com/" + fullName,
	}, nil
}

// resolveHead finds the commit HEAD points at in a remote ref listing.
// Servers either advertise HEAD with a hash directly or as a symbolic ref
// to the default branch.
func resolveHead(refs []*plumbing.Reference) (string, error) {
	var target plumbing.ReferenceName
	for _, ref := range refs {
		if ref.Name() != plumbing.HEAD {
			continue
		}
		if ref.Type() == plumbing.HashReference {
			return ref.Hash().String(), nil
		}
		target = ref.Target()
	}
	if target != "" {
		for _, ref := range refs {
			if ref.Name() == target && ref.Type() == plumbing.HashReference {
				return ref.Hash().String(), nil
			}
		}
	}
	return "", fmt.Errorf("no resolvable HEAD in remote refs")
}

// FetchContents clones the repository at depth 1 into destDir and collects
// blob hashes from the head commit's tree.
func (f *CloneFetcher) FetchContents(ctx context.Context, fullName string, identity Identity, destDir string) (*Snapshot, error) {
	repo, err := git.PlainCloneContext(ctx, destDir, false, &git.CloneOptions{
		URL:          cloneURL(fullName),
		Auth:         f.auth(),
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: cloning %s: %v", ErrTransfer, fullName, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("%w: reading HEAD of %s: %v", ErrTransfer, fullName, err)
	}

	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: reading head commit of %s: %v", ErrTransfer, fullName, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("%w: reading tree of %s: %v", ErrTransfer, fullName, err)
	}

	if head.Hash().String() != identity.CommitHash {
		// The branch advanced between resolve and clone; the snapshot
		// reflects what was actually materialized.
		f.logger.Warn("head moved since identity was resolved",
			zap.String("repository", fullName),
			zap.String("resolved", identity.CommitHash),
			zap.String("cloned", head.Hash().String()))
	}

	hashes := make(map[string]string)
	err = tree.Files().ForEach(func(file *object.File) error {
		if IsTextPath(file.Name, file.Size) {
			hashes[file.Name] = file.Hash.String()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walking tree of %s: %v", ErrTransfer, fullName, err)
	}

	f.logger.Info("cloned repository snapshot",
		zap.String("repository", fullName),
		zap.String("commit", head.Hash().String()),
		zap.Int("files", len(hashes)))

	return &Snapshot{
		CommitHash: head.Hash().String(),
		Root:       destDir,
		FileHashes: hashes,
		NumFiles:   len(hashes),
	}, nil
}
