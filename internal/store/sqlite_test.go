package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	// Verify database file was created
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
	assert.Equal(t, dbPath, store.Path())
}

func TestSQLiteStoreEmpty(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	kb, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, kb)
}

func TestSQLiteStoreSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	defer store.Close()

	kb := NewKbData("/project", nil)
	kb.Records = append(kb.Records,
		makeRecord("z.md", 1, 80, []float32{0.5, -0.25, 0.125}),
		makeRecord("a.md", 1, 3, []float32{1, 0, 0}),
		makeRecord("a.md", 4, 9, []float32{0, 1}),
	)
	require.NoError(t, store.Save(ctx, kb))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, SchemaVersion, loaded.Version)
	assert.Equal(t, kb.BuildID, loaded.BuildID)
	assert.Equal(t, "/project", loaded.Root)
	assert.True(t, kb.CreatedAt.Equal(loaded.CreatedAt))
	assert.True(t, kb.UpdatedAt.Equal(loaded.UpdatedAt))

	// Insertion order is preserved.
	assert.Equal(t, kb.Records, loaded.Records)
}

func TestSQLiteStoreReplace(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	defer store.Close()

	first := NewKbData("/project", nil)
	first.Records = append(first.Records,
		makeRecord("a.md", 1, 80, []float32{1}),
		makeRecord("b.md", 1, 80, []float32{1}),
	)
	require.NoError(t, store.Save(ctx, first))

	second := NewKbData("/project", first)
	second.Records = append(second.Records, makeRecord("c.md", 1, 2, []float32{0, 1}))
	require.NoError(t, store.Save(ctx, second))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Records, 1)
	assert.Equal(t, "c.md", loaded.Records[0].RelPath)
	assert.Equal(t, second.BuildID, loaded.BuildID)
	assert.True(t, first.CreatedAt.Equal(loaded.CreatedAt))
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	kb := NewKbData("/project", nil)
	kb.Records = append(kb.Records, makeRecord("a.md", 1, 3, []float32{0.25, 0.75}))
	require.NoError(t, store.Save(ctx, kb))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, kb.Records, loaded.Records)
}

func TestSQLiteStoreCorrupt(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	defer store.Close()

	kb := NewKbData("/project", nil)
	kb.Records = append(kb.Records, makeRecord("a.md", 1, 3, []float32{1}))
	require.NoError(t, store.Save(ctx, kb))

	_, err := store.db.Exec("UPDATE meta SET value = 'seven' WHERE key = ?", metaVersion)
	require.NoError(t, err)

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDeserializeEmbedding(t *testing.T) {
	assert.Nil(t, deserializeEmbedding([]byte{1, 2, 3}))
	assert.Equal(t, []float32{}, deserializeEmbedding(nil))
	assert.Equal(t, []float32{1}, deserializeEmbedding([]byte{0, 0, 0x80, 0x3f}))
}
