package database

import (
	"fmt"
	"os"
	"path/filepath"

	"relsync/internal/config"
	"relsync/internal/release"
)

// DBFileName is the sqlite file created under data_dir.
const DBFileName = "relsync.db"

// NewDatabaseFromConfig creates a RecordStore based on the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, clock release.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, DBFileName), clock)
	case "memory":
		return NewSQLiteDatabase(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
