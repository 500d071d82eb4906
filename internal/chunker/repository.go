package chunker

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposearch/internal/fetch"
	"github.com/fyrsmithlabs/reposearch/internal/models"
)

// ChunkAll walks the snapshot rooted at root and chunks every text file in
// it. Directories excluded from snapshots are pruned with the same rule the
// fetchers apply, so the walk covers exactly the hashed file set. Files that
// fail to read or decode are logged and skipped; only a walk failure aborts
// the pass.
func (c *TextChunker) ChunkAll(repository, root string) ([]models.DocumentChunk, error) {
	var chunks []models.DocumentChunk

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if fetch.SkippedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !fetch.IsTextPath(rel, info.Size()) {
			return nil
		}

		fileChunks, err := c.chunkPath(repository, rel, path)
		if err != nil {
			c.logger.Warn("skipping file",
				zap.String("repository", repository),
				zap.String("path", rel),
				zap.Error(err))
			return nil
		}
		chunks = append(chunks, fileChunks...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking snapshot at %s: %w", root, err)
	}

	return chunks, nil
}

// ChunkPath chunks the single snapshot file at root/relPath. A read failure
// or undecodable content returns an error wrapping ErrDecode where
// applicable, which callers treat as a per-file skip.
func (c *TextChunker) ChunkPath(repository, root, relPath string) ([]models.DocumentChunk, error) {
	return c.chunkPath(repository, relPath, filepath.Join(root, filepath.FromSlash(relPath)))
}

func (c *TextChunker) chunkPath(repository, relPath, fullPath string) ([]models.DocumentChunk, error) {
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", relPath, err)
	}
	return c.ChunkFile(repository, relPath, content)
}
