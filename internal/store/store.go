// Package store persists run reports and their rate samples in libsql
// (local file, in-memory, or a remote Turso database).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/namelens/pacer/internal/config"
)

const driverLibsql = "libsql"

// ErrNotInitialized is returned by methods called on a nil or closed Store.
var ErrNotInitialized = errors.New("store is not initialized")

// Store wraps the run history database.
type Store struct {
	DB     *sql.DB
	driver string
}

// Open connects to the database described by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = driverLibsql
	}
	if driver != driverLibsql {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	dsn, err := buildLibsqlDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}

	// A single connection keeps :memory: databases shared across calls.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	return &Store{DB: db, driver: driver}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Driver returns the configured store driver.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.DB.PingContext(ctx)
}

func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return addAuthToken(dsn, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return "", errors.New("store path or url is required")
	case path == ":memory:", strings.HasPrefix(path, "libsql:"):
		return path, nil
	case strings.HasPrefix(path, "file:"):
		localPath, err := extractFilePath(path)
		if err != nil {
			return "", err
		}
		if err := ensureStoreDir(localPath); err != nil {
			return "", err
		}
		return path, nil
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func addAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}

	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func extractFilePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}
	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}
	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

func ensureStoreDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
