package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"todo-sync/internal/logger"
	"todo-sync/internal/storage"
)

// OpenBackend connects the backend selected by cfg.Backend.
func OpenBackend(ctx context.Context, cfg *Config) (storage.Backend, error) {
	switch cfg.Backend.Driver {
	case "memory":
		logger.Warn(ctx, "using in-memory backend, data is lost on exit")
		return storage.NewMemory(), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Backend.DSN); dir != "." && cfg.Backend.DSN != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		s, err := storage.NewSQLite(cfg.Backend.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		p, err := storage.NewPostgres(ctx, cfg.Backend.DSN)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown backend driver %q", cfg.Backend.Driver)
	}
}
