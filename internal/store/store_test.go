package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/HerbHall/entitykit/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := New(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func exec(stmt string, calls *int) func(*sql.Tx) error {
	return func(tx *sql.Tx) error {
		*calls++
		_, err := tx.Exec(stmt)
		return err
	}
}

func tagMigrations(calls *int) []plugin.Migration {
	return []plugin.Migration{
		{Version: 1, Description: "create tags", Up: exec(`CREATE TABLE tags (id INTEGER PRIMARY KEY, label TEXT NOT NULL)`, calls)},
		{Version: 2, Description: "add tags.color", Up: exec(`ALTER TABLE tags ADD COLUMN color TEXT`, calls)},
	}
}

func tableExists(t *testing.T, s *SQLiteStore, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n))
	return n == 1
}

func TestMigrateAppliesOnce(t *testing.T) {
	s := openStore(t, ":memory:")
	ctx := context.Background()

	var calls int
	require.NoError(t, s.Migrate(ctx, "tags", tagMigrations(&calls)))
	require.NoError(t, s.Migrate(ctx, "tags", tagMigrations(&calls)))
	assert.Equal(t, 2, calls)

	// A later release adds a third migration; only it runs.
	more := append(tagMigrations(&calls), plugin.Migration{
		Version: 3, Description: "index labels", Up: exec(`CREATE INDEX idx_tags_label ON tags(label)`, &calls),
	})
	require.NoError(t, s.Migrate(ctx, "tags", more))
	assert.Equal(t, 3, calls)

	applied, err := s.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 3)
	assert.Equal(t, "tags", applied[2].Plugin)
	assert.Equal(t, 3, applied[2].Version)
	assert.Equal(t, "index labels", applied[2].Description)
	assert.False(t, applied[0].AppliedAt.IsZero())
}

func TestMigrateLedgerIsPerPlugin(t *testing.T) {
	s := openStore(t, ":memory:")
	ctx := context.Background()

	var calls int
	require.NoError(t, s.Migrate(ctx, "tags", tagMigrations(&calls)[:1]))
	require.NoError(t, s.Migrate(ctx, "notes", []plugin.Migration{
		{Version: 1, Description: "create notes", Up: exec(`CREATE TABLE notes (id INTEGER)`, &calls)},
	}))
	assert.Equal(t, 2, calls)
	assert.True(t, tableExists(t, s, "notes"))
}

func TestMigrateFailureRollsBack(t *testing.T) {
	s := openStore(t, ":memory:")
	ctx := context.Background()

	err := s.Migrate(ctx, "broken", []plugin.Migration{{
		Version:     1,
		Description: "half done",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`CREATE TABLE half (id INTEGER)`); err != nil {
				return err
			}
			return errors.New("boom")
		},
	}})
	require.ErrorContains(t, err, "migration broken/1 (half done)")
	assert.False(t, tableExists(t, s, "half"))

	applied, err := s.Applied(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestMigrateRejectsDisorder(t *testing.T) {
	s := openStore(t, ":memory:")
	var calls int
	ms := tagMigrations(&calls)
	ms[0], ms[1] = ms[1], ms[0]

	assert.ErrorContains(t, s.Migrate(context.Background(), "tags", ms), "out of order")
	assert.Zero(t, calls)
}

func TestTx(t *testing.T) {
	s := openStore(t, ":memory:")
	ctx := context.Background()
	_, err := s.DB().ExecContext(ctx, `CREATE TABLE kv (k TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	insert := func(k string) func(*sql.Tx) error {
		return func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO kv (k) VALUES (?)`, k)
			return err
		}
	}
	require.NoError(t, s.Tx(ctx, insert("kept")))

	abort := errors.New("abort")
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		if err := insert("dropped")(tx); err != nil {
			return err
		}
		return abort
	})
	assert.ErrorIs(t, err, abort)

	// A constraint error inside fn is returned as is.
	assert.Error(t, s.Tx(ctx, insert("kept")))

	var keys []string
	rows, err := s.DB().QueryContext(ctx, `SELECT k FROM kv`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var k string
		require.NoError(t, rows.Scan(&k))
		keys = append(keys, k)
	}
	assert.Equal(t, []string{"kept"}, keys)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entitykit.db")
	s := openStore(t, path)
	ctx := context.Background()

	var mode string
	require.NoError(t, s.DB().QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)

	_, err := s.DB().ExecContext(ctx, `CREATE TABLE t (id INTEGER)`)
	require.NoError(t, err)
	assert.NoError(t, s.Checkpoint(ctx))
	assert.Equal(t, path, s.Path())
}

func TestNewBadPath(t *testing.T) {
	_, err := New(context.Background(), filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	assert.Error(t, err)
}
