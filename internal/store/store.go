package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nickcecere/projectkb/internal/config"
)

// ErrCorrupt is returned by Load when the persisted knowledge base exists but
// cannot be decoded.
var ErrCorrupt = errors.New("knowledge base is corrupt")

// Store defines the persistence operations for a knowledge base.
type Store interface {
	// Load returns the persisted knowledge base, or nil when none exists.
	Load(ctx context.Context) (*KbData, error)

	// Save replaces the persisted knowledge base with kb and stamps its
	// UpdatedAt.
	Save(ctx context.Context, kb *KbData) error

	// Path returns the location of the backing file.
	Path() string

	Close() error
}

// Open returns the store selected by the storage configuration.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendJSON, "":
		return NewJSONStore(cfg.StorePath()), nil
	case config.BackendSQLite:
		return NewSQLiteStore(cfg.StorePath())
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
}

// validate checks the invariants every loaded knowledge base must hold.
func validate(kb *KbData) error {
	if kb.Version != SchemaVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, kb.Version)
	}
	seen := make(map[string]struct{}, len(kb.Records))
	for i := range kb.Records {
		r := &kb.Records[i]
		if len(r.Embedding) == 0 {
			return fmt.Errorf("%w: record %s has no embedding", ErrCorrupt, r.ID)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate record id %s", ErrCorrupt, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
