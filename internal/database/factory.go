package database

import (
	"fmt"
	"os"
	"path/filepath"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/config"
)

// NewStoreFromConfig creates a KVStore based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig, agentID string, clock agent.Clock) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, agentID+".db"), clock)
	case "memory":
		return NewSQLiteStore(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
