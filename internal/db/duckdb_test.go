//go:build integration

// Requires the DuckDB spatial extension to be installable.
// Run: go test -tags=integration ./internal/db/
package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenLoadsSpatial(t *testing.T) {
	conn, err := Open(Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if !Loaded(context.Background(), conn, "spatial") {
		t.Skip("spatial extension unavailable")
	}
	var wkt string
	if err := conn.QueryRow(`SELECT ST_AsText(ST_Point(1, 2))`).Scan(&wkt); err != nil {
		t.Fatal(err)
	}
	if wkt != "POINT (1 2)" {
		t.Fatalf("wkt=%q", wkt)
	}
}

func TestOpenCreatesFile(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{DataDir: dir, DBName: "regions", Extensions: []string{"json"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Ping(); err != nil {
		t.Fatal(err)
	}
	conn.Close()
	if _, err := os.Stat(filepath.Join(dir, "duckdb", "regions.duckdb")); err != nil {
		t.Fatal(err)
	}
}
