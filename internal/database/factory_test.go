package database

import (
	"os"
	"path/filepath"
	"testing"

	"cardsync-go/internal/config"
	"cardsync-go/internal/testutil"
)

func TestNewStoreFromConfig(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "nested", "db")

	tests := []struct {
		name    string
		cfg     config.DatabaseConfig
		wantErr bool
		wantDB  string // file expected on disk, if any
	}{
		{name: "memory", cfg: config.DatabaseConfig{Type: "memory"}},
		{name: "sqlite creates data_dir", cfg: config.DatabaseConfig{Type: "sqlite", DataDir: dataDir}, wantDB: filepath.Join(dataDir, "agent-123.db")},
		{name: "sqlite without data_dir", cfg: config.DatabaseConfig{Type: "sqlite"}, wantErr: true},
		{name: "unknown type", cfg: config.DatabaseConfig{Type: "postgres"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStoreFromConfig(tt.cfg, "agent-123", testutil.FixedClock())
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewStoreFromConfig() error = nil, want error")
				}
				if got != nil {
					t.Error("NewStoreFromConfig() returned a store alongside an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStoreFromConfig() error = %v", err)
			}
			defer got.Close()

			if err := got.CheckMigrations(); err != nil {
				t.Errorf("CheckMigrations() error = %v", err)
			}
			if tt.wantDB != "" {
				if _, err := os.Stat(tt.wantDB); err != nil {
					t.Errorf("database file: %v", err)
				}
			}
		})
	}
}
