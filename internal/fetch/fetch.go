// Package fetch loads the boundary feature collection of a hierarchy level.
// Fetchers compose: a file or database source wrapped by a cache, a
// de-duplicating layer and retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"
)

var (
	// ErrNotFound is returned when no dataset exists for a level key.
	ErrNotFound = errors.New("dataset not found")
	// ErrInvalidKey is returned for keys that would escape the data root.
	ErrInvalidKey = errors.New("invalid dataset key")
)

// Fetcher returns the feature collection for a level key such as
// "Moscow" or "districts/77".
type Fetcher interface {
	Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error)
}

// Func adapts a function to Fetcher.
type Func func(ctx context.Context, key string) (*geojson.FeatureCollection, error)

// Fetch implements Fetcher.
func (f Func) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	return f(ctx, key)
}

// ValidateKey rejects keys with traversal or absolute paths.
func ValidateKey(key string) error {
	if key == "" || strings.Contains(key, "..") || strings.Contains(key, "\\") || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// File reads GeoJSON files below a root directory. Pattern maps a key to a
// relative path; "{key}" is substituted, e.g. "{key}.geojson".
type File struct {
	root    string
	pattern string
}

// DefaultPattern appends the GeoJSON extension to the key.
const DefaultPattern = "{key}.geojson"

// NewFile creates a file fetcher.
func NewFile(root, pattern string) *File {
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &File{root: root, pattern: pattern}
}

// Path resolves the file a key maps to.
func (f *File) Path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	rel := strings.ReplaceAll(f.pattern, "{key}", key)
	return filepath.Join(f.root, filepath.FromSlash(rel)), nil
}

// Fetch implements Fetcher. A missing file maps to ErrNotFound.
func (f *File) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	path, err := f.Path(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", key, err)
	}
	return fc, nil
}
