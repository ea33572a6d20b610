package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
)

// sqliteFull is SQLITE_FULL, the primary result code for a full database.
const sqliteFull = 13

// SQLiteBackend is a durable backend on an embedded SQLite database. Batches
// run inside a transaction, so the session record and its denormalized keys
// are committed together.
type SQLiteBackend struct {
	db *sql.DB
}

var (
	_ Backend = (*SQLiteBackend)(nil)
	_ Batcher = (*SQLiteBackend)(nil)
)

// NewSQLiteBackend opens (creating if needed) the database at path. An empty
// path defaults to <user config dir>/go-auth-client/session.db.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath("session.db"); err != nil {
			return nil, err
		}
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	); err != nil {
		return fmt.Errorf("failed to init 'kv' table schema: %v", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func (s *SQLiteBackend) Name() string { return "sqlite" }

func (s *SQLiteBackend) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteBackend) Set(key, value string) error {
	return s.SetMany(map[string]string{key: value})
}

func (s *SQLiteBackend) Remove(key string) error {
	return s.RemoveMany([]string{key})
}

func (s *SQLiteBackend) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv WHERE substr(key, 1, length(?)) = ?`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteBackend) SetMany(entries map[string]string) error {
	return s.inTx(func(tx *sql.Tx) error {
		for k, v := range entries {
			if _, err := tx.Exec(
				`INSERT INTO kv (key, value) VALUES (?, ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v,
			); err != nil {
				return fmt.Errorf("failed to write %q: %w", k, err)
			}
		}
		return nil
	})
}

func (s *SQLiteBackend) RemoveMany(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM kv WHERE key IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
		return nil
	})
}

func (s *SQLiteBackend) inTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return classifySQLiteErr(fmt.Errorf("failed to begin transaction: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classifySQLiteErr(err)
	}
	if err := tx.Commit(); err != nil {
		return classifySQLiteErr(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// classifySQLiteErr maps SQLITE_FULL onto ErrQuotaExceeded.
func classifySQLiteErr(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqliteFull {
		return fmt.Errorf("%w: %v", autherrors.ErrQuotaExceeded, err)
	}
	return err
}
