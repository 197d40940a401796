package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements agent.KVStore on a single SQLite table.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	clock agent.Clock
}

var _ agent.KVStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path, applies pending migrations and
// returns a ready store. path can be a file path or ":memory:".
func NewSQLiteStore(path string, clock agent.Clock) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}

	if clock == nil {
		clock = agent.RealClock{}
	}
	return &SQLiteStore{db: db, path: path, clock: clock}, nil
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Get returns the value for key, or nil if the key does not exist.
func (s *SQLiteStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting %q: %w", key, err)
	}
	return value, nil
}

// Put inserts or replaces the value for key.
func (s *SQLiteStore) Put(key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.clock.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("putting %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}

// UpdatedAt returns when key was last written, or the zero time if it does not exist.
func (s *SQLiteStore) UpdatedAt(key string) (time.Time, error) {
	var ts int64
	err := s.db.QueryRow("SELECT updated_at FROM kv WHERE key = ?", key).Scan(&ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("reading timestamp for %q: %w", key, err)
	}
	return time.Unix(ts, 0), nil
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the underlying connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
