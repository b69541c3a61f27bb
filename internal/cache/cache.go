// Package cache persists per-file embeddings keyed by content hash, so an
// unchanged file is never embedded twice.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/projectkb/internal/embeddings"
	"github.com/nickcecere/projectkb/internal/fs"
)

// Entry holds the embeddings computed for one version of a file.
type Entry struct {
	Hash       string              `json:"hash"`
	Embeddings []embeddings.Vector `json:"embeddings"`
}

// Valid reports whether the entry can stand in for a file with the given
// content hash that currently splits into chunkCount chunks.
func (e Entry) Valid(hash string, chunkCount int) bool {
	return e.Hash == hash && len(e.Embeddings) == chunkCount
}

// Map is the whole cache, keyed by absolute file path.
type Map map[string]Entry

// Lookup returns the entry for path if it is valid for hash and chunkCount.
func (m Map) Lookup(path, hash string, chunkCount int) (Entry, bool) {
	e, ok := m[path]
	if !ok || !e.Valid(hash, chunkCount) {
		return Entry{}, false
	}
	return e, true
}

// Load reads the cache at path. A missing file yields an empty map. A file
// that cannot be parsed is treated as empty and logged; only I/O failures
// are returned.
func Load(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Map{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn("Ignoring unreadable embedding cache", "path", path, "error", err)
		return Map{}, nil
	}
	if m == nil {
		m = Map{}
	}

	log.Debug("Loaded embedding cache", "path", path, "files", len(m))
	return m, nil
}

// Save replaces the cache at path with m.
func Save(path string, m Map) error {
	if m == nil {
		m = Map{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	if err := fs.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save cache: %w", err)
	}

	log.Debug("Saved embedding cache", "path", path, "files", len(m))
	return nil
}
