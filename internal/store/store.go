// Package store defines the key-value durable store used for persisted
// counters and opens the configured backend.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/autoreply/internal/store/file"
	"github.com/nextlevelbuilder/autoreply/internal/store/pg"
	"github.com/nextlevelbuilder/autoreply/internal/store/sqlite"
)

// DurableStore persists JSON documents under string keys.
type DurableStore interface {
	// WriteJSON replaces the document stored under key.
	WriteJSON(ctx context.Context, key string, v any) error
	// ReadJSON decodes the document under key into v. found is false when
	// the key has never been written.
	ReadJSON(ctx context.Context, key string, v any) (found bool, err error)
	Close() error
}

// Backend names accepted in stats.backend.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and locates the backend.
type Config struct {
	Backend     string // file (default), sqlite, postgres
	Path        string // directory for file, database path for sqlite
	PostgresDSN string
}

// Open returns the configured backend.
func Open(cfg Config) (DurableStore, error) {
	switch cfg.Backend {
	case "", BackendFile:
		s, err := file.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQLite:
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres backend requires AUTOREPLY_POSTGRES_DSN")
		}
		s, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
