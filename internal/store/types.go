// Package store persists the knowledge base and ranks its records against a
// query vector.
package store

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// SchemaVersion is the KbData layout written by this package.
const SchemaVersion = 1

// Record is one embedded chunk.
type Record struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"filePath"`
	RelPath   string    `json:"relPath"`
	StartLine int       `json:"startLine"` // 1-indexed
	EndLine   int       `json:"endLine"`   // 1-indexed, inclusive
	Content   string    `json:"content"`
	Language  string    `json:"language"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model,omitempty"` // provider:model tag of the embedding
}

// KbData is the persisted knowledge base.
type KbData struct {
	Version   int       `json:"version"`
	BuildID   string    `json:"buildId"`
	Root      string    `json:"root"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Records   []Record  `json:"records"`
}

// NewKbData starts a knowledge base for root with a fresh build id. When prev
// is non-nil its creation time is carried over.
func NewKbData(root string, prev *KbData) *KbData {
	now := time.Now().UTC()
	created := now
	if prev != nil && !prev.CreatedAt.IsZero() {
		created = prev.CreatedAt
	}
	return &KbData{
		Version:   SchemaVersion,
		BuildID:   uuid.NewString(),
		Root:      root,
		CreatedAt: created,
		UpdatedAt: now,
		Records:   []Record{},
	}
}

// Files returns the number of distinct files with at least one record.
func (kb *KbData) Files() int {
	if kb == nil {
		return 0
	}
	seen := make(map[string]struct{})
	for i := range kb.Records {
		seen[kb.Records[i].RelPath] = struct{}{}
	}
	return len(seen)
}

// Models returns the distinct embedding tags in the knowledge base.
func (kb *KbData) Models() []string {
	if kb == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var models []string
	for i := range kb.Records {
		m := kb.Records[i].Model
		if _, ok := seen[m]; ok || m == "" {
			continue
		}
		seen[m] = struct{}{}
		models = append(models, m)
	}
	return models
}

// RecordID derives a stable record id from a file's relative path and line range.
func RecordID(relPath string, startLine, endLine int) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(fmt.Sprintf("%s:%d-%d", relPath, startLine, endLine)))
}

// Result is a ranked record.
type Result struct {
	Record *Record `json:"record"`
	Score  float64 `json:"score"`
}
