package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/inletmsg/inlet/internal/logging"
)

// SQLiteStateStore is a StateStore persisted in a SQLite database.
type SQLiteStateStore struct {
	sql *sql.DB
	log *logging.Logger
}

// OpenSQLite opens (or creates) a SQLite state store at the given path and
// runs migrations. Use ":memory:" for an in-memory database (useful for
// tests).
func OpenSQLite(path string, log *logging.Logger) (*SQLiteStateStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	store := &SQLiteStateStore{sql: sqlDB, log: log.Sub("state")}

	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	store.log.Info().Str("path", path).Msg("state database opened")
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStateStore) Close() error {
	return s.sql.Close()
}

func (s *SQLiteStateStore) migrate() error {
	_, err := s.sql.Exec(`
		CREATE TABLE IF NOT EXISTS state_entries (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			version    INTEGER NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("creating state table: %w", err)
	}
	return nil
}

// Read returns the stored value and version, or (nil, 0, nil) when absent.
func (s *SQLiteStateStore) Read(ctx context.Context, key string) ([]byte, uint64, error) {
	var value []byte
	var version uint64
	err := s.sql.QueryRowContext(ctx,
		"SELECT value, version FROM state_entries WHERE key = ?", key,
	).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("reading state %q: %w", key, err)
	}
	return value, version, nil
}

// Write stores value when expectedVersion matches the current version. The
// guarded UPDATE/INSERT keeps the check and the write in one statement so
// concurrent writers race on the database, not on a read-modify-write gap.
func (s *SQLiteStateStore) Write(ctx context.Context, key string, value []byte, expectedVersion uint64) (uint64, error) {
	next := expectedVersion + 1

	if expectedVersion == 0 {
		_, err := s.sql.ExecContext(ctx,
			"INSERT INTO state_entries (key, value, version) VALUES (?, ?, ?)",
			key, value, next,
		)
		if err != nil {
			// Unique violation means another writer created the key first.
			return 0, ErrConflict
		}
		return next, nil
	}

	res, err := s.sql.ExecContext(ctx,
		`UPDATE state_entries SET value = ?, version = ?, updated_at = datetime('now')
		 WHERE key = ? AND version = ?`,
		value, next, key, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("writing state %q: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("writing state %q: %w", key, err)
	}
	if affected == 0 {
		return 0, ErrConflict
	}
	return next, nil
}

// Delete removes a key. Deleting a missing key is a no-op.
func (s *SQLiteStateStore) Delete(ctx context.Context, key string) error {
	if _, err := s.sql.ExecContext(ctx, "DELETE FROM state_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting state %q: %w", key, err)
	}
	return nil
}
