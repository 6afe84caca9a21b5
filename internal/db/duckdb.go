// Package db opens the DuckDB database that backs the boundary table.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
)

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Config holds database configuration.
type Config struct {
	DataDir string
	DBName  string
	// Extensions are installed and loaded on open. The boundary table
	// needs "spatial".
	Extensions []string
}

// DefaultExtensions are loaded when Config.Extensions is empty.
var DefaultExtensions = []string{"spatial"}

// Get returns the process-wide DuckDB connection, opening it on first use.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		instance, initErr = Open(cfg)
	})
	return instance, initErr
}

// Open opens a new database under DataDir/duckdb. An empty DBName opens
// an in-memory database.
func Open(cfg Config) (*sql.DB, error) {
	dsn := ""
	if cfg.DBName != "" {
		dir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
		dsn = filepath.Join(dir, cfg.DBName+".duckdb")
	}
	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	for _, ext := range exts {
		if _, err := conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			// Offline hosts may still have the extension cached.
			slog.Warn("duckdb extension unavailable", "extension", ext, "err", err)
		}
	}
	return conn, nil
}

// Loaded reports whether an extension is loaded on conn.
func Loaded(ctx context.Context, conn *sql.DB, ext string) bool {
	var ok bool
	err := conn.QueryRowContext(ctx,
		`SELECT loaded FROM duckdb_extensions() WHERE extension_name = ?`, ext).Scan(&ok)
	return err == nil && ok
}

// Close closes the process-wide connection.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}
