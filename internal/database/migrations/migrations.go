// Package migrations embeds the SQL schema of the local key-value store and
// applies it with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// Version describes where a database stands relative to the embedded migrations.
type Version struct {
	Current uint
	Latest  uint
	Dirty   bool
	Empty   bool // no migration has ever been applied
}

// UpToDate reports whether no migration is pending.
func (v Version) UpToDate() bool {
	return !v.Empty && !v.Dirty && v.Current == v.Latest
}

// Status reads the schema version of db. The migrate instance is never
// closed here since that would close db, which the caller owns.
func Status(db *sql.DB) (Version, error) {
	latest, err := latestVersion()
	if err != nil {
		return Version{}, err
	}

	m, err := newMigrate(db)
	if err != nil {
		return Version{}, err
	}

	v := Version{Latest: latest}
	current, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		v.Empty = true
	case err != nil:
		return Version{}, fmt.Errorf("reading schema version: %w", err)
	default:
		v.Current = current
		v.Dirty = dirty
	}
	return v, nil
}

// CheckDBMigrationStatus returns nil if db is at the latest schema version and
// an error describing the mismatch otherwise.
func CheckDBMigrationStatus(db *sql.DB) error {
	v, err := Status(db)
	if err != nil {
		return err
	}

	switch {
	case v.Empty:
		return fmt.Errorf("database has no schema version (needs migration)")
	case v.Dirty:
		return fmt.Errorf("database is in dirty state at version %d (migration failed previously)", v.Current)
	case v.Current < v.Latest:
		return fmt.Errorf("database is at version %d but latest is %d", v.Current, v.Latest)
	case v.Current > v.Latest:
		return fmt.Errorf("database version %d is ahead of binary version %d (binary needs update)", v.Current, v.Latest)
	}
	return nil
}

// MigrateUp applies all pending migrations. An up-to-date database is not an error.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating sqlite3 migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}

func latestVersion() (uint, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("opening embedded migrations: %w", err)
	}
	defer src.Close()

	return lastVersion(src)
}

// lastVersion follows the source's Next chain; Next errors once the end is reached.
func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("reading first migration: %w", err)
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
