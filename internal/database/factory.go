package database

import (
	"context"
	"fmt"

	"pictor/internal/config"
	"pictor/internal/pictor"
)

// NewRecordStoreFromConfig creates a RecordStore implementation based on the
// database config type.
func NewRecordStoreFromConfig(ctx context.Context, cfg config.DatabaseConfig) (pictor.RecordStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for sqlite database")
		}
		return NewSQLiteStore(cfg.Path)
	case "memory":
		return NewSQLiteStore(":memory:")
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// Dialect maps a database config type to its migration dialect.
func Dialect(cfg config.DatabaseConfig) string {
	if cfg.Type == "postgres" {
		return "postgres"
	}
	return "sqlite"
}
