// Package store opens the databases behind entitykit: an embedded SQLite
// file with per-plugin migrations, or PostgreSQL with goose migrations.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/entitykit/pkg/plugin"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

var _ plugin.Store = (*SQLiteStore)(nil)

// modernc.org/sqlite takes pragmas as statements, not DSN parameters.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA cache_size=-20000",
}

const migrationsDDL = `CREATE TABLE IF NOT EXISTS _migrations (
	plugin_name TEXT     NOT NULL,
	version     INTEGER  NOT NULL,
	description TEXT     NOT NULL,
	applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (plugin_name, version)
)`

// SQLiteStore is a single-connection SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string

	migrateMu sync.Mutex
	ddlOnce   sync.Once
	ddlErr    error
}

// AppliedMigration is one row of the migration ledger.
type AppliedMigration struct {
	Plugin      string
	Version     int
	Description string
	AppliedAt   time.Time
}

// New opens or creates the database at path. ":memory:" gives a private
// throwaway database.
func New(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// Writers serialize on the one connection, and ":memory:" would
	// otherwise hand each connection its own empty database.
	db.SetMaxOpenConns(1)

	if err := configure(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite %q: %w", path, err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func configure(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	for _, p := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// DB exposes the pool for repositories.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Path is the file name New was given.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Tx runs fn in a transaction, committing when fn returns nil.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Migrate applies the migrations of pluginName that are not yet in the
// ledger. Versions must be strictly ascending; each migration runs in its
// own transaction together with its ledger row.
func (s *SQLiteStore) Migrate(ctx context.Context, pluginName string, migrations []plugin.Migration) error {
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			return fmt.Errorf("migrations for %s out of order: %d follows %d",
				pluginName, migrations[i].Version, migrations[i-1].Version)
		}
	}

	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()

	if err := s.ensureLedger(ctx); err != nil {
		return err
	}
	done, err := s.appliedVersions(ctx, pluginName)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		err := s.Tx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO _migrations (plugin_name, version, description) VALUES (?, ?, ?)`,
				pluginName, m.Version, m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", pluginName, m.Version, m.Description, err)
		}
	}
	return nil
}

// Applied lists the ledger, ordered by plugin and version.
func (s *SQLiteStore) Applied(ctx context.Context) ([]AppliedMigration, error) {
	if err := s.ensureLedger(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT plugin_name, version, description, applied_at FROM _migrations ORDER BY plugin_name, version`)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Plugin, &m.Version, &m.Description, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Checkpoint truncates the WAL into the main file so the file alone is a
// complete copy.
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ensureLedger(ctx context.Context) error {
	s.ddlOnce.Do(func() {
		if _, err := s.db.ExecContext(ctx, migrationsDDL); err != nil {
			s.ddlErr = fmt.Errorf("create migration ledger: %w", err)
		}
	})
	return s.ddlErr
}

func (s *SQLiteStore) appliedVersions(ctx context.Context, pluginName string) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM _migrations WHERE plugin_name = ?`, pluginName)
	if err != nil {
		return nil, fmt.Errorf("read migrations of %s: %w", pluginName, err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		done[v] = true
	}
	return done, rows.Err()
}
