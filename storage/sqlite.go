package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite keeps blobs in a single SQLite table. It backs long-lived upload
// storage for the server and CLI batch runs.
type SQLite struct {
	db     *sql.DB
	closed atomic.Bool
}

// OpenSQLite opens (or creates) the database at dbPath and applies pending
// migrations.
func OpenSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLite{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

type migration struct {
	version     int
	description string
	stmt        string
}

// migrations are append-only.
var migrations = []migration{
	{
		version:     1,
		description: "blobs table",
		stmt: `CREATE TABLE IF NOT EXISTS blobs (
			path       TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			size       INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	{
		version:     2,
		description: "index blob paths for prefix listing",
		stmt:        `CREATE INDEX IF NOT EXISTS idx_blobs_path ON blobs(path)`,
	},
}

func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		slog.Debug("storage: applying migration", "version", m.version, "description", m.description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			m.version, m.description); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Put stores data at p, replacing any previous blob.
func (s *SQLite) Put(ctx context.Context, p string, data []byte) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	key, err := cleanKey(p)
	if err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blobs (path, data, size) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			data = excluded.data,
			size = excluded.size,
			created_at = CURRENT_TIMESTAMP
	`, key, data, len(data))
	return err
}

// ReadAll returns the blob stored at p.
func (s *SQLite) ReadAll(ctx context.Context, p string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	key, err := cleanKey(p)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.db.QueryRowContext(ctx, "SELECT data FROM blobs WHERE path = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: %s: %w", p, fs.ErrNotExist)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// List returns the immediate children of prefix.
func (s *SQLite) List(ctx context.Context, prefix string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	key, err := cleanKey(prefix)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT path FROM blobs WHERE substr(path, 1, ?) = ? ORDER BY path", len(key), key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return children(keys, key), nil
}

// Delete removes the blob at p. Deleting a missing path is not an error.
func (s *SQLite) Delete(ctx context.Context, p string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	key, err := cleanKey(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "DELETE FROM blobs WHERE path = ?", key)
	return err
}

// Close closes the database. Further calls fail with ErrStoreClosed.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
