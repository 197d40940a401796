package migrations

import (
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaLifecycle(t *testing.T) {
	db := openMemoryDB(t)

	t.Run("fresh database needs migration", func(t *testing.T) {
		v, err := Status(db)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if !v.Empty || v.UpToDate() {
			t.Errorf("Status() = %+v, want empty and not up to date", v)
		}
		err = CheckDBMigrationStatus(db)
		if err == nil || !strings.Contains(err.Error(), "needs migration") {
			t.Errorf("CheckDBMigrationStatus() error = %v, want needs migration", err)
		}
	})

	t.Run("migrate up twice", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if err := MigrateUp(db); err != nil {
				t.Fatalf("MigrateUp() #%d error = %v", i+1, err)
			}
		}
		if err := CheckDBMigrationStatus(db); err != nil {
			t.Errorf("CheckDBMigrationStatus() error = %v", err)
		}
		v, err := Status(db)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if v.Current != v.Latest || v.Dirty {
			t.Errorf("Status() = %+v, want current == latest and clean", v)
		}
	})

	t.Run("kv table enforces unique keys", func(t *testing.T) {
		const insert = "INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)"
		if _, err := db.Exec(insert, "session/current", []byte(`{}`), 0); err != nil {
			t.Fatalf("first insert error = %v", err)
		}
		if _, err := db.Exec(insert, "session/current", []byte(`{"id":"x"}`), 1); err == nil {
			t.Error("duplicate key insert succeeded")
		}
	})
}

func TestCheckDBMigrationStatus_Dirty(t *testing.T) {
	db := openMemoryDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if _, err := db.Exec("UPDATE schema_migrations SET dirty = 1"); err != nil {
		t.Fatalf("marking dirty: %v", err)
	}

	err := CheckDBMigrationStatus(db)
	if err == nil || !strings.Contains(err.Error(), "dirty") {
		t.Errorf("CheckDBMigrationStatus() error = %v, want dirty state", err)
	}
}
