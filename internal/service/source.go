package service

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DatasetService lists the files a fetcher can serve.
type DatasetService struct {
	sourcesDir string
}

// NewDatasetService creates a dataset service rooted at dataDir/sources.
func NewDatasetService(dataDir string) *DatasetService {
	return &DatasetService{
		sourcesDir: filepath.Join(dataDir, "sources"),
	}
}

var extToType = map[string]string{
	".geojson": "GeoJSON",
	".json":    "GeoJSON",
	".kml":     "KML",
}

// List walks the sources directory and returns every supported file,
// sorted by key.
func (s *DatasetService) List() ([]Dataset, error) {
	files := []Dataset{}
	err := filepath.WalkDir(s.sourcesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == s.sourcesDir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		fileType, ok := extToType[ext]
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(s.sourcesDir, path)
		if err != nil {
			return nil
		}
		files = append(files, Dataset{
			Key:      strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel)),
			Name:     d.Name(),
			Size:     formatSize(info.Size()),
			FileType: fileType,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })
	return files, nil
}

// SourcesDir returns the path to the sources directory.
func (s *DatasetService) SourcesDir() string {
	return s.sourcesDir
}

// ResolveFile maps a file name below the sources directory to a path,
// rejecting anything that escapes it.
func (s *DatasetService) ResolveFile(name string) (string, error) {
	if name == "" || strings.Contains(name, "..") || filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(s.sourcesDir, filepath.FromSlash(name)), nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
