package database

import (
	"fmt"
	"os"
	"path/filepath"

	"sg-go/internal/config"
	"sg-go/internal/sg"
)

// NewHistoryFromConfig opens the operations journal described by cfg. The
// sqlite journal lives at <data_dir>/<username>.db.
func NewHistoryFromConfig(cfg config.HistoryConfig, username string, clock sg.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite history")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, username+".db"), clock)
	case "memory":
		return NewSQLiteDatabase(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown history type: %s", cfg.Type)
	}
}
