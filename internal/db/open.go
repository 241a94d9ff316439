package db

import (
	"context"
	"fmt"
	"time"

	"github.com/Ankitmohanty2/Kagaz/internal/config"
)

var (
	_ DB = (*PostgresDB)(nil)
	_ DB = (*SQLiteDB)(nil)
	_ DB = (*MemoryDB)(nil)
)

// Open returns the store selected by cfg.Driver.
func Open(cfg config.DatabaseConfig, dims int) (DB, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := NewPostgresDB(cfg.ConnectionString)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pg.Migrate(ctx, dims); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case "sqlite":
		return NewSQLiteDB(cfg.Path)
	case "memory":
		return NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
