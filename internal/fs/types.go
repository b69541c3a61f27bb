// Package fs provides file system operations for indexing.
package fs

import (
	"context"
	"time"
)

// FileInfo represents metadata about a file.
type FileInfo struct {
	Path     string    // Absolute path to the file
	RelPath  string    // Slash-separated path relative to the root
	Size     int64     // File size in bytes
	ModTime  time.Time // Last modification time
	Language string    // Language tag derived from the extension
}

// Chunk is a contiguous window of lines from one file.
type Chunk struct {
	FilePath   string // Absolute path of the source file
	RelPath    string // Path relative to the indexed root
	Content    string // Raw text of the line range
	StartLine  int    // Starting line number (1-indexed)
	EndLine    int    // Ending line number (1-indexed, inclusive)
	Language   string // Language tag of the source file
	ChunkIndex int    // Index of this chunk within the file
}

// Lines returns the number of lines the chunk spans.
func (c Chunk) Lines() int {
	return c.EndLine - c.StartLine + 1
}

// WalkOptions configures the file walker.
type WalkOptions struct {
	// Root is the directory to start walking from.
	Root string

	// Filter decides which files are eligible by extension and size.
	// A nil filter accepts every non-binary file.
	Filter *Filter

	// IgnoreDirs are directory names pruned in addition to the built-in set.
	IgnoreDirs []string

	// IgnorePatterns are additional patterns to ignore (gitignore syntax).
	IgnorePatterns []string

	// IncludeHidden includes hidden files and directories.
	IncludeHidden bool

	// UseGitignore respects the root .gitignore file.
	UseGitignore bool

	// FollowSymlinks descends into symlinked directories. Each real path is
	// visited at most once, so cycles terminate.
	FollowSymlinks bool
}

// Walker walks a directory tree and yields files.
type Walker interface {
	// Walk walks the directory tree and calls fn for each eligible file.
	// The walk stops if fn returns an error or ctx is cancelled.
	Walk(ctx context.Context, fn func(FileInfo) error) error

	// Stats returns statistics about the last walk.
	Stats() WalkStats
}

// WalkStats contains statistics from a directory walk.
type WalkStats struct {
	FilesFound   int   // Eligible files yielded
	FilesSkipped int   // Files skipped due to size/pattern/binary content
	DirsSkipped  int   // Directories pruned or unreadable
	TotalBytes   int64 // Total bytes of eligible files
	SkippedBytes int64 // Total bytes of skipped files
}

// Chunker splits file contents into chunks.
type Chunker interface {
	// Chunk splits content into line windows tagged with the file's language.
	Chunk(content, filePath, relPath string) []Chunk
}
