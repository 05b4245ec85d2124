// Package file stores JSON documents as one file per key.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store writes each key to <dir>/<key>.json atomically.
type Store struct {
	dir string
}

// New creates dir if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("file store: empty directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("file store: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key string) (string, error) {
	name := sanitizeFilename(key)
	if name == "" || name == "." || !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("file store: invalid key %q", key)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// WriteJSON marshals v and replaces the file via temp file + rename.
func (s *Store) WriteJSON(_ context.Context, key string, v any) error {
	target, err := s.path(key)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: marshal %s: %w", key, err)
	}

	tmpFile, err := os.CreateTemp(s.dir, "kv-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return err
	}
	cleanup = false
	syncDir(s.dir)
	return nil
}

// ReadJSON loads the file for key into v.
func (s *Store) ReadJSON(_ context.Context, key string, v any) (bool, error) {
	target, err := s.path(key)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("file store: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) Close() error { return nil }

// syncDir flushes the rename to disk. Best effort: not every platform
// supports fsync on a directory.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func sanitizeFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}
