package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/reposearch/internal/indexer"
)

var (
	forceRefresh  bool
	forceDownload bool
	forceChunk    bool
	forceEmbed    bool
	indexParallel int
)

var indexCmd = &cobra.Command{
	Use:   "index owner/repo [owner/repo...]",
	Short: "Index one or more repositories",
	Long: `Index repositories into the vector store.

Indexing is incremental: an up-to-date repository is a no-op, a repository
whose default branch moved is re-indexed in full, and a repository whose
previous run failed partway resumes from the failed stage.

Examples:
  # Index a repository
  reposearch index golang/go

  # Index several repositories concurrently
  reposearch index golang/go kubernetes/kubernetes

  # Re-index from scratch
  reposearch index --force golang/go`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&forceRefresh, "force", false, "re-run every stage from scratch")
	indexCmd.Flags().BoolVar(&forceDownload, "force-download", false, "re-run the download stage")
	indexCmd.Flags().BoolVar(&forceChunk, "force-chunk", false, "re-run the chunk stage in full")
	indexCmd.Flags().BoolVar(&forceEmbed, "force-embed", false, "re-run the embed stage")
	indexCmd.Flags().IntVar(&indexParallel, "parallel", 2, "number of repositories indexed concurrently")
}

func runIndex(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	opts := indexer.Options{
		ForceRefresh:  forceRefresh,
		ForceDownload: forceDownload,
		ForceChunk:    forceChunk,
		ForceEmbed:    forceEmbed,
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	if indexParallel < 1 {
		indexParallel = 1
	}
	g.SetLimit(indexParallel)

	for _, repo := range args {
		g.Go(func() error {
			info, err := a.service.Index(ctx, repo, opts)
			if err != nil {
				a.logger.Error("indexing failed",
					zap.String("repository", repo),
					zap.Error(err))
				return fmt.Errorf("indexing %s: %w", repo, err)
			}
			fmt.Printf("%s indexed at %s (%d files, %d chunks)\n",
				info.FullName(), shortHash(info.CommitHash), info.NumFiles, info.NumChunks)
			return nil
		})
	}

	return g.Wait()
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
