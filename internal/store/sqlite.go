package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec extension
	sqlite_vec.Auto()
}

// SQLiteStore keeps the knowledge base in a SQLite database. Embeddings are
// stored as sqlite-vec float32 blobs.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// NewSQLiteStore creates a new SQLite store at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx := context.Background()
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	var vecVersion string
	if err := db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec is not available: %w", err)
	}

	log.Debug("Opened SQLite store", "path", dbPath, "sqlite_vec", vecVersion)

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// Load reads the knowledge base. An empty database yields (nil, nil).
func (s *SQLiteStore) Load(ctx context.Context) (*KbData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.readMeta(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := meta[metaBuildID]; !ok {
		return nil, nil
	}

	kb := &KbData{
		BuildID: meta[metaBuildID],
		Root:    meta[metaRoot],
		Records: []Record{},
	}
	if kb.Version, err = strconv.Atoi(meta[metaVersion]); err != nil {
		return nil, fmt.Errorf("%w: bad version %q", ErrCorrupt, meta[metaVersion])
	}
	if kb.CreatedAt, err = time.Parse(time.RFC3339Nano, meta[metaCreatedAt]); err != nil {
		return nil, fmt.Errorf("%w: bad created_at: %v", ErrCorrupt, err)
	}
	if kb.UpdatedAt, err = time.Parse(time.RFC3339Nano, meta[metaUpdatedAt]); err != nil {
		return nil, fmt.Errorf("%w: bad updated_at: %v", ErrCorrupt, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, rel_path, start_line, end_line, content, language, model,
			embedding, vec_length(embedding)
		FROM records ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read records: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Record
		var blob []byte
		var dims int

		if err := rows.Scan(
			&r.ID, &r.FilePath, &r.RelPath, &r.StartLine, &r.EndLine,
			&r.Content, &r.Language, &r.Model,
			&blob, &dims,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		r.Embedding = deserializeEmbedding(blob)
		if len(r.Embedding) != dims {
			return nil, fmt.Errorf("%w: record %s embedding has %d values, expected %d", ErrCorrupt, r.ID, len(r.Embedding), dims)
		}
		kb.Records = append(kb.Records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if err := validate(kb); err != nil {
		return nil, err
	}

	log.Debug("Loaded knowledge base", "path", s.path, "records", len(kb.Records))
	return kb, nil
}

func (s *SQLiteStore) readMeta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		meta[key] = value
	}
	return meta, rows.Err()
}

// Save replaces the knowledge base in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, kb *KbData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kb.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}

	meta := map[string]string{
		metaVersion:   strconv.Itoa(kb.Version),
		metaBuildID:   kb.BuildID,
		metaRoot:      kb.Root,
		metaCreatedAt: kb.CreatedAt.UTC().Format(time.RFC3339Nano),
		metaUpdatedAt: kb.UpdatedAt.Format(time.RFC3339Nano),
	}
	for key, value := range meta {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			key, value,
		); err != nil {
			return fmt.Errorf("failed to write metadata %s: %w", key, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (seq, id, file_path, rel_path, start_line, end_line, content, language, model, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range kb.Records {
		r := &kb.Records[i]
		blob, err := sqlite_vec.SerializeFloat32(r.Embedding)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding for record %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			i, r.ID, r.FilePath, r.RelPath, r.StartLine, r.EndLine,
			r.Content, r.Language, r.Model, blob,
		); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	log.Debug("Saved knowledge base", "path", s.path, "records", len(kb.Records))
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// deserializeEmbedding converts a sqlite-vec float32 blob back to a slice.
func deserializeEmbedding(blob []byte) []float32 {
	if len(blob)%4 != 0 {
		return nil
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}
