package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// DefaultChunkLines is the window size used when none is configured.
const DefaultChunkLines = 80

// ErrNotText is returned by ReadText for files that are not valid UTF-8.
var ErrNotText = errors.New("file is not valid UTF-8 text")

// LineChunker splits content into fixed windows of lines.
type LineChunker struct {
	lines int
}

// NewLineChunker creates a chunker producing windows of at most lines lines.
func NewLineChunker(lines int) *LineChunker {
	if lines <= 0 {
		lines = DefaultChunkLines
	}
	return &LineChunker{lines: lines}
}

// WindowSize returns the configured number of lines per chunk.
func (c *LineChunker) WindowSize() int {
	return c.lines
}

// Chunk splits content into consecutive windows. Lines are separated by '\n'
// and a single trailing newline ends the last line. Empty content yields no
// chunks.
func (c *LineChunker) Chunk(content, filePath, relPath string) []Chunk {
	if content == "" {
		return nil
	}

	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	lang := DetectLanguage(filePath)
	if relPath == "" {
		relPath = filePath
	}

	chunks := make([]Chunk, 0, (len(lines)+c.lines-1)/c.lines)
	for start := 0; start < len(lines); start += c.lines {
		end := min(start+c.lines, len(lines))
		chunks = append(chunks, Chunk{
			FilePath:   filePath,
			RelPath:    relPath,
			Content:    strings.Join(lines[start:end], "\n"),
			StartLine:  start + 1,
			EndLine:    end,
			Language:   lang,
			ChunkIndex: len(chunks),
		})
	}

	return chunks
}

// ReadText reads a whole file and checks that it decodes as UTF-8.
func ReadText(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotText)
	}
	return data, nil
}

// HashContent returns the hex SHA-256 digest of raw file bytes.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
