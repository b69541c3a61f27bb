package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDetectLanguage tests language detection from file paths.
func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"main.go", LangGo},
		{"app.ts", LangTypeScript},
		{"component.tsx", LangTypeScript},
		{"script.js", LangJavaScript},
		{"widget.jsx", LangJavaScript},
		{"utils.py", LangPython},
		{"lib.rs", LangRust},
		{"query.sql", LangSQL},
		{"index.html", LangHTML},
		{"style.css", LangCSS},
		{"data.json", LangJSON},
		{"config.yaml", LangYAML},
		{"README.md", LangMarkdown},
		{"CHAPTER.MD", LangMarkdown},
		{"notes.txt", LangText},
		{"Makefile", LangShell},
		{"unknown.xyz", LangText},
		{"no-extension", LangText},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectLanguage(tt.path))
		})
	}
}

// TestHashContent tests content hashing.
func TestHashContent(t *testing.T) {
	content := []byte("hello world")
	hash1 := HashContent(content)
	hash2 := HashContent(content)
	assert.Equal(t, hash1, hash2)

	// A single byte change produces a different digest.
	hash3 := HashContent([]byte("hello world!"))
	assert.NotEqual(t, hash1, hash3)

	// SHA-256 in hex.
	assert.Len(t, hash1, 64)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", hash1)
}

// TestIsBinaryContent tests binary detection.
func TestIsBinaryContent(t *testing.T) {
	assert.False(t, isBinaryContent([]byte("Hello, World!\n")))
	assert.False(t, isBinaryContent([]byte("line1\nline2\tindented")))
	assert.True(t, isBinaryContent([]byte("hello\x00world")))
	assert.True(t, isBinaryContent([]byte{1, 2, 3, 4, 'a'}))
	assert.False(t, isBinaryContent([]byte{}))
}

func TestFilter(t *testing.T) {
	f := NewFilter(100, []string{".md", "txt"})

	tests := []struct {
		name string
		path string
		size int64
		want bool
	}{
		{"allowed extension", "/p/README.md", 10, true},
		{"extension without dot in config", "/p/notes.txt", 10, true},
		{"case insensitive", "/p/NOTES.TXT", 10, true},
		{"not on allow list", "/p/main.go", 10, false},
		{"known file name", "/p/Makefile", 10, true},
		{"too large", "/p/big.md", 101, false},
		{"at threshold", "/p/edge.md", 100, true},
		{"binary deny list", "/p/cover.png", 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Eligible(tt.path, tt.size))
		})
	}

	t.Run("empty allow list accepts any text extension", func(t *testing.T) {
		open := NewFilter(0, nil)
		assert.True(t, open.Eligible("/p/file.unknown", 1<<30))
		assert.False(t, open.Eligible("/p/archive.zip", 1))
	})

	t.Run("nil filter still denies binaries", func(t *testing.T) {
		var none *Filter
		assert.True(t, none.Eligible("/p/a.go", 10))
		assert.False(t, none.Eligible("/p/a.pdf", 10))
	})
}

// TestLineChunker tests fixed line-window chunking.
func TestLineChunker(t *testing.T) {
	chunker := NewLineChunker(80)

	t.Run("empty content returns no chunks", func(t *testing.T) {
		assert.Empty(t, chunker.Chunk("", "/p/empty.md", "empty.md"))
	})

	t.Run("three line file is one chunk", func(t *testing.T) {
		chunks := chunker.Chunk("Chapter 1\nHello\nWorld", "/p/ch1.md", "ch1.md")
		require.Len(t, chunks, 1)
		assert.Equal(t, 1, chunks[0].StartLine)
		assert.Equal(t, 3, chunks[0].EndLine)
		assert.Equal(t, "Chapter 1\nHello\nWorld", chunks[0].Content)
		assert.Equal(t, LangMarkdown, chunks[0].Language)
		assert.Equal(t, "/p/ch1.md", chunks[0].FilePath)
		assert.Equal(t, "ch1.md", chunks[0].RelPath)
	})

	t.Run("trailing newline ends the last line", func(t *testing.T) {
		chunks := chunker.Chunk("a\nb\n", "/p/a.txt", "a.txt")
		require.Len(t, chunks, 1)
		assert.Equal(t, 2, chunks[0].EndLine)
		assert.Equal(t, "a\nb", chunks[0].Content)
	})

	t.Run("rel path falls back to file path", func(t *testing.T) {
		chunks := chunker.Chunk("x", "/p/x.txt", "")
		require.Len(t, chunks, 1)
		assert.Equal(t, "/p/x.txt", chunks[0].RelPath)
	})

	t.Run("default window size", func(t *testing.T) {
		assert.Equal(t, DefaultChunkLines, NewLineChunker(0).WindowSize())
	})
}

// TestLineChunkerPartition checks that windows cover every line exactly once.
func TestLineChunkerPartition(t *testing.T) {
	for _, window := range []int{1, 3, 80} {
		for _, total := range []int{1, 2, 3, 79, 80, 81, 160, 161, 500} {
			t.Run(fmt.Sprintf("N=%d/L=%d", window, total), func(t *testing.T) {
				lines := make([]string, total)
				for i := range lines {
					lines[i] = fmt.Sprintf("line %d", i+1)
				}
				content := strings.Join(lines, "\n")

				chunks := NewLineChunker(window).Chunk(content, "/p/f.txt", "f.txt")
				require.Len(t, chunks, (total+window-1)/window)

				next := 1
				var rebuilt []string
				for i, c := range chunks {
					assert.Equal(t, i, c.ChunkIndex)
					assert.Equal(t, next, c.StartLine)
					assert.LessOrEqual(t, c.Lines(), window)
					assert.GreaterOrEqual(t, c.EndLine, c.StartLine)
					next = c.EndLine + 1
					rebuilt = append(rebuilt, c.Content)
				}
				assert.Equal(t, total, chunks[len(chunks)-1].EndLine)
				assert.Equal(t, content, strings.Join(rebuilt, "\n"))
			})
		}
	}
}

func TestReadText(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.md")
	require.NoError(t, os.WriteFile(good, []byte("héllo\n"), 0644))
	data, err := ReadText(good)
	require.NoError(t, err)
	assert.Equal(t, "héllo\n", string(data))

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte{0xff, 0xfe, 'a'}, 0644))
	_, err = ReadText(bad)
	assert.ErrorIs(t, err, ErrNotText)

	_, err = ReadText(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		fullPath := filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0755))
		require.NoError(t, os.WriteFile(fullPath, []byte(content), 0644))
	}
}

func collect(t *testing.T, w *FileWalker) []string {
	t.Helper()
	var found []string
	err := w.Walk(context.Background(), func(info FileInfo) error {
		found = append(found, info.RelPath)
		return nil
	})
	require.NoError(t, err)
	return found
}

// TestFileWalker tests directory walking.
func TestFileWalker(t *testing.T) {
	tmpDir := t.TempDir()

	writeTree(t, tmpDir, map[string]string{
		"main.go":               "package main\n\nfunc main() {}\n",
		"README.md":             "# Test\n",
		"notes.draft":           "draft notes\n",
		"chapters/one.md":       "# One\n",
		".hidden":               "hidden file",
		"node_modules/a.js":     "// should be ignored",
		"dist/bundle.js":        "// build output",
		".vscode/settings.json": "{}",
		"dev-data/kb.json":      "{}",
		"logo.png":              "not really a png",
		"package-lock.json":     "{}",
		"blob.dat":              "a\x00b",
	})
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".gitignore"), []byte("*.draft\n"), 0644))

	t.Run("prunes ignored directories and files", func(t *testing.T) {
		walker, err := NewFileWalker(WalkOptions{
			Root:         tmpDir,
			IgnoreDirs:   []string{"dev-data"},
			UseGitignore: true,
		})
		require.NoError(t, err)

		found := collect(t, walker)
		assert.Equal(t, []string{"README.md", "chapters/one.md", "main.go"}, found)

		stats := walker.Stats()
		assert.Equal(t, 3, stats.FilesFound)
		assert.Greater(t, stats.TotalBytes, int64(0))
		assert.GreaterOrEqual(t, stats.DirsSkipped, 4)
	})

	t.Run("gitignore can be disabled", func(t *testing.T) {
		walker, err := NewFileWalker(WalkOptions{Root: tmpDir})
		require.NoError(t, err)
		assert.Contains(t, collect(t, walker), "notes.draft")
	})

	t.Run("respects extension filter", func(t *testing.T) {
		walker, err := NewFileWalker(WalkOptions{
			Root:   tmpDir,
			Filter: NewFilter(0, []string{".md"}),
		})
		require.NoError(t, err)

		found := collect(t, walker)
		require.NotEmpty(t, found)
		for _, f := range found {
			assert.True(t, strings.HasSuffix(f, ".md"), "unexpected file: %s", f)
		}
	})

	t.Run("skips oversized files", func(t *testing.T) {
		walker, err := NewFileWalker(WalkOptions{
			Root:   tmpDir,
			Filter: NewFilter(10, nil),
		})
		require.NoError(t, err)

		found := collect(t, walker)
		assert.NotContains(t, found, "main.go")
		assert.Contains(t, found, "README.md")
	})

	t.Run("includes hidden files when configured", func(t *testing.T) {
		walker, err := NewFileWalker(WalkOptions{
			Root:          tmpDir,
			IncludeHidden: true,
		})
		require.NoError(t, err)

		found := collect(t, walker)
		assert.Contains(t, found, ".hidden")
		// Editor directories stay pruned even when hidden entries are included.
		for _, f := range found {
			assert.False(t, strings.HasPrefix(f, ".vscode/"), f)
		}
	})

	t.Run("detects languages", func(t *testing.T) {
		walker, err := NewFileWalker(WalkOptions{
			Root:   tmpDir,
			Filter: NewFilter(0, []string{".go"}),
		})
		require.NoError(t, err)

		var languages []string
		err = walker.Walk(context.Background(), func(info FileInfo) error {
			languages = append(languages, info.Language)
			assert.True(t, filepath.IsAbs(info.Path))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{LangGo}, languages)
	})

	t.Run("callback error stops the walk", func(t *testing.T) {
		walker, err := NewFileWalker(WalkOptions{Root: tmpDir})
		require.NoError(t, err)

		stop := fmt.Errorf("stop")
		calls := 0
		err = walker.Walk(context.Background(), func(FileInfo) error {
			calls++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops the walk", func(t *testing.T) {
		walker, err := NewFileWalker(WalkOptions{Root: tmpDir})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err = walker.Walk(ctx, func(FileInfo) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFileWalkerSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"book/ch1.md": "# One\n",
	})
	// A link back to the root would loop forever without real-path tracking.
	require.NoError(t, os.Symlink(tmpDir, filepath.Join(tmpDir, "book", "loop")))
	require.NoError(t, os.Symlink(filepath.Join(tmpDir, "book", "ch1.md"), filepath.Join(tmpDir, "alias.md")))

	t.Run("symlinked directories are not followed by default", func(t *testing.T) {
		walker, err := NewFileWalker(WalkOptions{Root: tmpDir})
		require.NoError(t, err)

		found := collect(t, walker)
		// The symlinked file and its target share a real path and are yielded once.
		assert.Equal(t, []string{"alias.md"}, found)
	})

	t.Run("following symlinks terminates on cycles", func(t *testing.T) {
		walker, err := NewFileWalker(WalkOptions{Root: tmpDir, FollowSymlinks: true})
		require.NoError(t, err)

		found := collect(t, walker)
		assert.Len(t, found, 1)
	})
}

func TestFileWalkerUnreadableDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced here")
	}

	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"ok/a.md":     "a\n",
		"locked/b.md": "b\n",
	})
	locked := filepath.Join(tmpDir, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	walker, err := NewFileWalker(WalkOptions{Root: tmpDir})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok/a.md"}, collect(t, walker))
	assert.Equal(t, 1, walker.Stats().DirsSkipped)
}

// TestFileWalkerErrors tests error handling.
func TestFileWalkerErrors(t *testing.T) {
	t.Run("non-existent root", func(t *testing.T) {
		_, err := NewFileWalker(WalkOptions{
			Root: "/nonexistent/path",
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
	})

	t.Run("root is file not directory", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "file.txt")
		require.NoError(t, os.WriteFile(tmpFile, []byte("x"), 0644))

		_, err := NewFileWalker(WalkOptions{
			Root: tmpFile,
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileWalkerExcluded(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("generated/\n*.log\n"), 0644))

	w, err := NewFileWalker(WalkOptions{
		Root:         root,
		IgnoreDirs:   []string{"dev-data"},
		UseGitignore: true,
	})
	require.NoError(t, err)

	tests := []struct {
		rel   string
		isDir bool
		want  bool
	}{
		{"docs/readme.md", false, false},
		{"docs", true, false},
		{"node_modules/pkg/index.js", false, true},
		{"dev-data/project-kb.json", false, true},
		{"dev-data", true, true},
		{".hidden/notes.md", false, true},
		{"src/.env", false, true},
		{"generated/api.go", false, true},
		{"server.log", false, true},
		{".", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Excluded(tt.rel, tt.isDir))
		})
	}
}
