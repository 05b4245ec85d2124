// Package pg stores JSON documents in Postgres. The schema is owned by the
// SQL migrations applied with `autoreply migrate up`.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store is a DurableStore backed by the autoreply_kv table.
type Store struct {
	db *sql.DB
}

// OpenDB opens and pings a pgx-backed database/sql handle.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Open connects to dsn and refuses a database whose schema does not match
// this binary.
func Open(dsn string) (*Store, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if st := CheckSchema(ctx, db); !st.Compatible {
		db.Close()
		return nil, fmt.Errorf("%w: %s", ErrSchemaMismatch, st.Describe())
	}
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) WriteJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("pg store: marshal %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO autoreply_kv (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, string(data),
	)
	if err != nil {
		return fmt.Errorf("pg store: write %s: %w", key, err)
	}
	return nil
}

func (s *Store) ReadJSON(ctx context.Context, key string, v any) (bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM autoreply_kv WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pg store: read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("pg store: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
