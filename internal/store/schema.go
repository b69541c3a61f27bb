package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

const currentSchemaVersion = 1

// Schema definitions
const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);
`

const metaTable = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// seq preserves record insertion order.
const recordsTable = `
CREATE TABLE IF NOT EXISTS records (
	seq INTEGER PRIMARY KEY,
	id TEXT UNIQUE NOT NULL,
	file_path TEXT NOT NULL,
	rel_path TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	content TEXT NOT NULL,
	language TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	embedding BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_rel_path ON records(rel_path);
`

// Meta keys
const (
	metaVersion   = "version"
	metaBuildID   = "build_id"
	metaRoot      = "root"
	metaCreatedAt = "created_at"
	metaUpdatedAt = "updated_at"
)

// initSchema initializes the database schema.
func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		version = 0
	} else if err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if version >= currentSchemaVersion {
		log.Debug("Schema is up to date", "version", version)
		return nil
	}

	log.Debug("Migrating schema", "from", version, "to", currentSchemaVersion)

	if version < 1 {
		if err := migrateV1(ctx, db); err != nil {
			return fmt.Errorf("failed to migrate to v1: %w", err)
		}
	}

	return nil
}

// migrateV1 creates the initial schema.
func migrateV1(ctx context.Context, db *sql.DB) error {
	log.Debug("Applying migration v1")

	for _, table := range []string{metaTable, recordsTable} {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", 1); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}
