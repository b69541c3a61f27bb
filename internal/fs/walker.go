package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	gitignore "github.com/sabhiram/go-gitignore"
)

// Ignorer defines the interface for pattern matching.
type Ignorer interface {
	MatchesPath(path string) bool
}

// combinedIgnorer wraps two ignorers.
type combinedIgnorer struct {
	file     *gitignore.GitIgnore
	patterns *gitignore.GitIgnore
}

// MatchesPath returns true if the path matches any ignore pattern.
func (c *combinedIgnorer) MatchesPath(path string) bool {
	return c.file.MatchesPath(path) || c.patterns.MatchesPath(path)
}

// ignoredDirs are pruned by name wherever they appear in the tree.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"out":          true,
	"vendor":       true,
	"coverage":     true,
	"__pycache__":  true,
	".git":         true,
	".svn":         true,
	".hg":          true,
	".vscode":      true,
	".idea":        true,
	".cache":       true,
	"tmp":          true,
	"temp":         true,
	"logs":         true,
}

// defaultIgnorePatterns cover generated text files that are never worth indexing.
var defaultIgnorePatterns = []string{
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"Cargo.lock",
	"poetry.lock",
	"go.sum",
	"*.min.js",
	"*.min.css",
	"*.map",
	"*.log",
	".DS_Store",
	"Thumbs.db",
	".env",
	".env.*",
}

// FileWalker implements Walker for traversing a file system.
type FileWalker struct {
	opts       WalkOptions
	ignorer    Ignorer
	ignoreDirs map[string]bool
	stats      WalkStats
	visited    map[string]bool
}

// NewFileWalker creates a new file walker.
func NewFileWalker(opts WalkOptions) (*FileWalker, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	opts.Root = root

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", root)
	}

	w := &FileWalker{
		opts:       opts,
		ignoreDirs: make(map[string]bool, len(ignoredDirs)+len(opts.IgnoreDirs)),
	}
	for name := range ignoredDirs {
		w.ignoreDirs[name] = true
	}
	for _, name := range opts.IgnoreDirs {
		if name = strings.Trim(filepath.ToSlash(name), "/"); name != "" {
			w.ignoreDirs[filepath.Base(name)] = true
		}
	}

	w.initIgnorer()
	return w, nil
}

// Root returns the absolute root the walker was created with.
func (w *FileWalker) Root() string {
	return w.opts.Root
}

// initIgnorer initializes the gitignore matcher.
func (w *FileWalker) initIgnorer() {
	patterns := append([]string{}, w.opts.IgnorePatterns...)
	patterns = append(patterns, defaultIgnorePatterns...)

	if w.opts.UseGitignore {
		gitignorePath := filepath.Join(w.opts.Root, ".gitignore")
		if _, err := os.Stat(gitignorePath); err == nil {
			gi, err := gitignore.CompileIgnoreFile(gitignorePath)
			if err != nil {
				log.Warn("Failed to parse .gitignore", "path", gitignorePath, "error", err)
			} else {
				w.ignorer = &combinedIgnorer{
					file:     gi,
					patterns: gitignore.CompileIgnoreLines(patterns...),
				}
				return
			}
		}
	}

	w.ignorer = gitignore.CompileIgnoreLines(patterns...)
}

// Walk traverses the directory tree depth-first in lexical order. Unreadable
// directories and files are logged and skipped; only an unreadable root fails.
func (w *FileWalker) Walk(ctx context.Context, fn func(FileInfo) error) error {
	w.stats = WalkStats{}
	w.visited = make(map[string]bool)
	w.markVisited(w.opts.Root)

	return w.walkDir(ctx, w.opts.Root, "", fn)
}

func (w *FileWalker) walkDir(ctx context.Context, dir, rel string, fn func(FileInfo) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if rel == "" {
			return fmt.Errorf("failed to read root directory: %w", err)
		}
		log.Warn("Skipping unreadable directory", "path", dir, "error", err)
		w.stats.DirsSkipped++
		return nil
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(dir, name)
		relPath := name
		if rel != "" {
			relPath = rel + "/" + name
		}

		mode := entry.Type()
		if mode&os.ModeSymlink != 0 {
			target, err := os.Stat(path)
			if err != nil {
				log.Debug("Skipping dangling symlink", "path", path, "error", err)
				w.stats.FilesSkipped++
				continue
			}
			if target.IsDir() {
				if !w.opts.FollowSymlinks {
					w.stats.DirsSkipped++
					continue
				}
				if err := w.enterDir(ctx, path, name, relPath, fn); err != nil {
					return err
				}
				continue
			}
			if !target.Mode().IsRegular() {
				continue
			}
			if err := w.visitFile(path, name, relPath, target, fn); err != nil {
				return err
			}
			continue
		}

		if entry.IsDir() {
			if err := w.enterDir(ctx, path, name, relPath, fn); err != nil {
				return err
			}
			continue
		}
		if !mode.IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Warn("Skipping unreadable file", "path", path, "error", err)
			w.stats.FilesSkipped++
			continue
		}
		if err := w.visitFile(path, name, relPath, info, fn); err != nil {
			return err
		}
	}

	return nil
}

func (w *FileWalker) enterDir(ctx context.Context, path, name, relPath string, fn func(FileInfo) error) error {
	if w.shouldSkipDir(name, relPath) {
		w.stats.DirsSkipped++
		return nil
	}
	if !w.markVisited(path) {
		log.Debug("Skipping already visited directory", "path", path)
		w.stats.DirsSkipped++
		return nil
	}
	return w.walkDir(ctx, path, relPath, fn)
}

func (w *FileWalker) visitFile(path, name, relPath string, info os.FileInfo, fn func(FileInfo) error) error {
	if w.shouldSkipFile(name, relPath) {
		w.stats.FilesSkipped++
		return nil
	}

	if !w.opts.Filter.Eligible(path, info.Size()) {
		w.stats.FilesSkipped++
		w.stats.SkippedBytes += info.Size()
		return nil
	}

	if isBinary, err := isBinaryFile(path); err != nil || isBinary {
		if err != nil {
			log.Warn("Skipping unreadable file", "path", path, "error", err)
		}
		w.stats.FilesSkipped++
		w.stats.SkippedBytes += info.Size()
		return nil
	}

	// A file reachable through several symlinks is yielded once.
	if !w.markVisited(path) {
		return nil
	}

	w.stats.FilesFound++
	w.stats.TotalBytes += info.Size()

	return fn(FileInfo{
		Path:     path,
		RelPath:  relPath,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Language: DetectLanguage(path),
	})
}

// markVisited records the real path behind path and reports whether it was new.
func (w *FileWalker) markVisited(path string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}
	if w.visited[resolved] {
		return false
	}
	w.visited[resolved] = true
	return true
}

// Stats returns the walk statistics.
func (w *FileWalker) Stats() WalkStats {
	return w.stats
}

// Excluded reports whether the path relPath (relative to the root) would be
// pruned by a walk, either itself or through one of its parent directories.
func (w *FileWalker) Excluded(relPath string, isDir bool) bool {
	relPath = filepath.ToSlash(relPath)
	if relPath == "." || relPath == "" {
		return false
	}

	parts := strings.Split(relPath, "/")
	for i, name := range parts[:len(parts)-1] {
		if w.shouldSkipDir(name, strings.Join(parts[:i+1], "/")) {
			return true
		}
	}

	name := parts[len(parts)-1]
	if isDir {
		return w.shouldSkipDir(name, relPath)
	}
	return w.shouldSkipFile(name, relPath)
}

// shouldSkipDir checks if a directory should be skipped.
func (w *FileWalker) shouldSkipDir(name, relPath string) bool {
	if w.ignoreDirs[name] {
		return true
	}

	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}

	return w.ignorer != nil && w.ignorer.MatchesPath(relPath+"/")
}

// shouldSkipFile checks if a file should be skipped.
func (w *FileWalker) shouldSkipFile(name, relPath string) bool {
	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}

	return w.ignorer != nil && w.ignorer.MatchesPath(relPath)
}

// isBinaryFile checks if a file appears to be binary.
func isBinaryFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, 8192)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, err
	}

	return isBinaryContent(buf[:n]), nil
}

// isBinaryContent checks if content appears to be binary.
func isBinaryContent(content []byte) bool {
	if len(content) == 0 {
		return false
	}

	nonPrintable := 0
	for _, b := range content {
		if b == 0 {
			return true
		}
		if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			nonPrintable++
		}
	}

	// More than 30% control characters reads as binary.
	return float64(nonPrintable)/float64(len(content)) > 0.3
}
