package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/projectkb/internal/fs"
)

// JSONStore keeps the knowledge base in a single JSON document.
type JSONStore struct {
	path string
}

// NewJSONStore creates a store backed by the file at path. Nothing is read or
// created until Load or Save is called.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load reads the knowledge base. A missing file yields (nil, nil).
func (s *JSONStore) Load(ctx context.Context) (*KbData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base: %w", err)
	}

	var kb KbData
	if err := json.Unmarshal(data, &kb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := validate(&kb); err != nil {
		return nil, err
	}
	if kb.Records == nil {
		kb.Records = []Record{}
	}

	log.Debug("Loaded knowledge base", "path", s.path, "records", len(kb.Records))
	return &kb, nil
}

// Save writes kb atomically.
func (s *JSONStore) Save(ctx context.Context, kb *KbData) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	kb.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(kb, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode knowledge base: %w", err)
	}
	if err := fs.WriteFileAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to save knowledge base: %w", err)
	}

	log.Debug("Saved knowledge base", "path", s.path, "records", len(kb.Records))
	return nil
}

// Path returns the JSON file path.
func (s *JSONStore) Path() string {
	return s.path
}

// Close is a no-op.
func (s *JSONStore) Close() error {
	return nil
}
