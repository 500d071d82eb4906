package fetch

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxTextFileSize is the largest file considered text. Larger files are
// excluded from the snapshot entirely.
const MaxTextFileSize = 5 * 1024 * 1024

// skipDirs are directory names excluded from snapshots entirely. They hold
// dependencies, build output, or editor state rather than source. Both the
// fetchers and the chunker apply this set, so the recorded file hashes and
// the chunked file set always agree.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true,
}

// SkippedDir reports whether a directory name is excluded from snapshots.
func SkippedDir(name string) bool {
	return skipDirs[name]
}

// textExtensions is the allowlist of extensions treated as text. Unknown
// extensions are excluded rather than sniffed, so binary assets never enter
// the snapshot's file-hash set.
var textExtensions = map[string]bool{
	// Documentation
	".txt": true, ".md": true, ".rst": true, ".adoc": true, ".asciidoc": true,

	// Web
	".html": true, ".htm": true, ".css": true, ".scss": true, ".sass": true, ".less": true,
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".vue": true, ".svelte": true,

	// Config
	".json": true, ".xml": true, ".yaml": true, ".yml": true, ".toml": true, ".ini": true,
	".cfg": true, ".conf": true, ".properties": true, ".env": true,
	".gitignore": true, ".gitconfig": true, ".gitattributes": true,

	// Code
	".py": true, ".java": true, ".c": true, ".cpp": true, ".h": true, ".hpp": true,
	".cs": true, ".rb": true, ".php": true, ".go": true, ".rs": true, ".swift": true,
	".kt": true, ".scala": true, ".sh": true, ".bash": true, ".zsh": true, ".fish": true,
	".sql": true, ".graphql": true, ".proto": true, ".cmake": true, ".mk": true,

	// Structured data
	".csv": true, ".tsv": true,
}

// IsTextPath reports whether a file at relPath (slash-separated) with the
// given size should be part of the indexed snapshot, based on path and size
// alone. Files under a skipped directory at any depth are excluded. Content
// decodability is checked later by the chunker, which skips undecodable
// files individually.
func IsTextPath(relPath string, size int64) bool {
	if size > MaxTextFileSize {
		return false
	}
	dirs := strings.Split(relPath, "/")
	for _, dir := range dirs[:len(dirs)-1] {
		if skipDirs[dir] {
			return false
		}
	}
	base := filepath.Base(relPath)
	if base == "Makefile" || base == "Dockerfile" {
		return true
	}
	ext := strings.ToLower(filepath.Ext(base))
	return textExtensions[ext]
}

// LooksBinary reports whether a content sample is unlikely to be text:
// invalid UTF-8, or more than 10% control characters outside the usual
// whitespace range.
func LooksBinary(sample []byte) bool {
	if !utf8.Valid(sample) {
		return true
	}
	if len(sample) == 0 {
		return false
	}
	control := 0
	for _, b := range sample {
		if b < 9 || (b > 13 && b < 32) {
			control++
		}
	}
	return control*10 > len(sample)
}
