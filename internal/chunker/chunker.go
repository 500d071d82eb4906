// Package chunker splits repository files into embeddable document chunks.
//
// Three strategies are used depending on the file type: code files break at
// definition-shaped lines, markdown and documentation break at headers, and
// everything else falls back to fixed-size line windows. All strategies cap
// chunks by estimated token count and carry a small line overlap between
// consecutive windows so context survives the split.
package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposearch/internal/fetch"
	"github.com/fyrsmithlabs/reposearch/internal/models"
)

// ErrDecode is returned when a file's content cannot be treated as text.
// Callers skip such files rather than failing the whole chunking pass.
var ErrDecode = errors.New("content is not decodable text")

// maxChunkTokens keeps chunks safely below typical embedding model input
// limits (8192 tokens for OpenAI-compatible models).
const maxChunkTokens = 7000

// codeExtensions selects the definition-based chunking strategy.
var codeExtensions = map[string]bool{
	".py": true, ".java": true, ".c": true, ".cpp": true, ".h": true,
	".hpp": true, ".cs": true, ".js": true, ".jsx": true, ".ts": true,
	".tsx": true, ".php": true, ".rb": true, ".go": true, ".rs": true,
	".swift": true, ".kt": true, ".scala": true, ".sh": true, ".bash": true,
	".zsh": true, ".sql": true,
}

// docExtensions selects the header-based chunking strategy.
var docExtensions = map[string]bool{
	".md": true, ".rst": true, ".txt": true, ".html": true, ".htm": true,
}

// definitionPattern matches lines that look like the start of a function,
// class, method, or declaration across common languages. Regex-based
// boundary detection is approximate but keeps related code together far
// better than fixed windows.
var definitionPattern = regexp.MustCompile(strings.Join([]string{
	`^\s*(def|function|public|private|protected|async|static|class)\s+\w+.*$`,
	`^\s*[\w\*]+\s+[\w\*]+\s*\(.*\).*$`,
	`^\s*(var|let|const|public|private|protected|static)\s+\w+.*$`,
}, "|"))

// headerPattern matches markdown headers of any level.
var headerPattern = regexp.MustCompile(`^#+\s+.*$`)

// Config holds chunking parameters.
type Config struct {
	// ChunkSize is the approximate token budget per chunk. The line cap
	// per chunk is derived from it as ChunkSize/10.
	ChunkSize int

	// ChunkOverlap is the approximate token overlap between consecutive
	// chunks. The carried line count is ChunkOverlap/10.
	ChunkOverlap int
}

// TextChunker splits file contents into document chunks with stable IDs.
type TextChunker struct {
	chunkSize    int
	chunkOverlap int
	logger       *zap.Logger
}

// New creates a chunker. Zero or negative parameters fall back to the
// defaults of 1000 tokens per chunk with 100 tokens of overlap.
func New(cfg Config, logger *zap.Logger) *TextChunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextChunker{
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		logger:       logger.Named("chunker"),
	}
}

// estimateTokens approximates token count as one token per four characters,
// which is close enough for English text and source code.
func estimateTokens(text string) int {
	return len(text) / 4
}

// ChunkFile splits content from the file at relPath into chunks. It returns
// ErrDecode when the content is not valid text; callers treat that as a
// per-file skip, not a failure.
func (c *TextChunker) ChunkFile(repository, relPath string, content []byte) ([]models.DocumentChunk, error) {
	if fetch.LooksBinary(content) {
		return nil, fmt.Errorf("%w: %s", ErrDecode, relPath)
	}

	text := string(content)
	ext := strings.ToLower(extOf(relPath))

	switch {
	case codeExtensions[ext]:
		return c.split(repository, relPath, text, models.ChunkTypeCode, definitionBoundary), nil
	case docExtensions[ext]:
		return c.split(repository, relPath, text, models.ChunkTypeMarkdown, headerBoundary), nil
	default:
		return c.split(repository, relPath, text, models.ChunkTypeText, nil), nil
	}
}

func extOf(relPath string) string {
	if i := strings.LastIndexByte(relPath, '.'); i >= 0 && i > strings.LastIndexByte(relPath, '/') {
		return relPath[i:]
	}
	return ""
}

func definitionBoundary(line string) bool {
	return definitionPattern.MatchString(line)
}

func headerBoundary(line string) bool {
	return headerPattern.MatchString(line)
}

// split accumulates lines into sections, flushing a chunk whenever a
// boundary line begins a new section or the current section exceeds its
// token or line budget. boundary may be nil for pure fixed-size windows.
func (c *TextChunker) split(repository, relPath, content string, chunkType models.ChunkType, boundary func(string) bool) []models.DocumentChunk {
	lines := strings.Split(content, "\n")
	maxLines := c.chunkSize / 10
	overlap := c.chunkOverlap / 10

	var chunks []models.DocumentChunk
	var section []string
	sectionStart := 0
	seq := 0

	flush := func(endLine int) {
		if len(section) == 0 {
			return
		}
		chunks = append(chunks, c.newChunk(
			repository, relPath,
			strings.Join(section, "\n"),
			chunkType, seq, sectionStart, endLine,
		))
		seq++
	}

	for i, line := range lines {
		if boundary != nil && boundary(line) {
			flush(i - 1)
			section = []string{line}
			sectionStart = i
			continue
		}

		section = append(section, line)

		if estimateTokens(strings.Join(section, "\n")) > maxChunkTokens || len(section) >= maxLines {
			flush(sectionStart + len(section) - 1)
			keep := min(len(section), overlap)
			sectionStart += len(section) - keep
			section = append([]string(nil), section[len(section)-keep:]...)
		}
	}
	flush(sectionStart + len(section) - 1)

	return chunks
}

// newChunk builds a chunk with a stable content-address: the ID is a UUIDv5
// of the repository, path, and line span, so re-chunking unchanged content
// produces identical IDs and upserts overwrite in place.
func (c *TextChunker) newChunk(repository, relPath, content string, chunkType models.ChunkType, seq, startLine, endLine int) models.DocumentChunk {
	if est := estimateTokens(content); est > maxChunkTokens {
		c.logger.Warn("truncating oversized chunk",
			zap.String("repository", repository),
			zap.String("path", relPath),
			zap.Int("estimated_tokens", est))
		lines := strings.Split(content, "\n")
		keep := len(lines) * maxChunkTokens / est
		content = strings.Join(lines[:keep], "\n")
		endLine = startLine + keep - 1
	}

	id := uuid.NewSHA1(uuid.NameSpaceURL,
		[]byte(fmt.Sprintf("%s/%s:%d-%d", repository, relPath, startLine, endLine)))

	return models.DocumentChunk{
		ID:         id.String(),
		Repository: repository,
		Content:    content,
		Metadata: models.ChunkMetadata{
			FilePath:  relPath,
			ChunkType: chunkType,
			Sequence:  seq,
			StartLine: startLine,
			EndLine:   endLine,
		},
	}
}
