package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-regions/internal/api"
	"github.com/joeblew999/plat-regions/internal/api/viewer"
	"github.com/joeblew999/plat-regions/internal/db"
	"github.com/joeblew999/plat-regions/internal/drilldown"
	"github.com/joeblew999/plat-regions/internal/fetch"
	"github.com/joeblew999/plat-regions/internal/humastar"
	"github.com/joeblew999/plat-regions/internal/logger"
	"github.com/joeblew999/plat-regions/internal/metrics"
	"github.com/joeblew999/plat-regions/internal/scene"
	"github.com/joeblew999/plat-regions/internal/service"
	"github.com/joeblew999/plat-regions/internal/templates"
)

// Storage backends for boundary datasets.
const (
	StorageFile   = "file"
	StorageDuckDB = "duckdb"
	StorageHTTP   = "http"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	WebDir  string // Path to web/ directory for static files and templates

	// HierarchyFile is a YAML drill-down hierarchy; empty uses the default.
	HierarchyFile string
	// Storage selects where boundaries are fetched from.
	Storage string
	// HTTPTemplate is the URL template of the http storage.
	HTTPTemplate string
	// Table is the DuckDB boundary table.
	Table string
	// RedisURL enables the shared boundary cache.
	RedisURL    string
	CacheTTL    time.Duration
	MaxSessions int
	// SessionTTL expires idle sessions; zero keeps them until deleted.
	SessionTTL time.Duration
	// AllowedOrigins are accepted by the WebSocket endpoint besides the
	// page's own origin.
	AllowedOrigins []string
}

// Server is the region viewer HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	links    *humastar.Links
	db       *sql.DB
	cache    *fetch.RedisStore
	files    *fetch.File
	boundary *fetch.DuckDB
	services *api.Services
	renderer *templates.Renderer
	log      *slog.Logger
	stop     context.CancelFunc
}

// New creates a new server.
func New(cfg Config) (*Server, error) {
	if cfg.Storage == "" {
		cfg.Storage = StorageFile
	}
	if cfg.Table == "" {
		cfg.Table = "regions"
	}
	log := logger.L()

	h, err := drilldown.LoadHierarchy(cfg.HierarchyFile)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	links := api.NewLinks()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-regions API", api.Version)
	humaConfig.Info.Description = "Region drill-down map viewer: boundary sessions, marker badges, clip masks and heat fields."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, humastar.LinkTransformer(links))

	humaAPI := humago.New(mux, humaConfig)

	s := &Server{
		config:  cfg,
		mux:     mux,
		humaAPI: humaAPI,
		links:   links,
		log:     log,
	}

	datasets := service.NewDatasetService(cfg.DataDir)
	s.files = fetch.NewFile(datasets.SourcesDir(), fetch.DefaultPattern)
	fetcher, err := s.fetcher(h)
	if err != nil {
		s.Close()
		return nil, err
	}

	bus := service.NewEventBus()
	s.services = &api.Services{
		Sessions: service.NewSessionService(service.SessionConfig{
			Hierarchy:   h,
			Fetcher:     fetcher,
			Bus:         bus,
			Logger:      log,
			MaxSessions: cfg.MaxSessions,
			IdleTTL:     cfg.SessionTTL,
		}),
		Presets:  service.NewPresetService(cfg.DataDir, bus),
		Datasets: datasets,
		Fetcher:  fetcher,
		Scenes:   sceneSources(h),
		DataDir:  cfg.DataDir,
		Storage:  cfg.Storage,
	}

	s.renderer = templates.Default()
	if cfg.WebDir != "" {
		fragmentsDir := filepath.Join(cfg.WebDir, "templates", "fragments")
		if r, err := templates.New(fragmentsDir); err == nil {
			s.renderer = r
		} else {
			log.Warn("fragment templates not loaded", "dir", fragmentsDir, "err", err)
		}
	}

	s.routes()
	s.handler = logger.Access(log)(mux)

	ctx, stop := context.WithCancel(context.Background())
	s.stop = stop
	go s.services.Sessions.Run(ctx)
	return s, nil
}

// fetcher builds the boundary fetch chain: backend, optional shared
// cache, bounded retries, then in-flight deduplication.
func (s *Server) fetcher(h drilldown.Hierarchy) (fetch.Fetcher, error) {
	var base fetch.Fetcher
	switch s.config.Storage {
	case StorageFile:
		base = s.files
	case StorageHTTP:
		if s.config.HTTPTemplate == "" {
			return nil, errors.New("http storage needs a URL template")
		}
		base = &fetch.HTTP{Template: s.config.HTTPTemplate}
	case StorageDuckDB:
		conn, err := db.Get(db.Config{DataDir: s.config.DataDir, DBName: "regions"})
		if err != nil {
			return nil, fmt.Errorf("opening duckdb: %w", err)
		}
		s.db = conn
		store, err := fetch.NewDuckDB(conn, s.config.Table)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}
		s.boundary = store
		base = store
	default:
		return nil, fmt.Errorf("unknown storage %q", s.config.Storage)
	}

	if s.config.RedisURL != "" {
		rs, err := fetch.NewRedisStore(s.config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		s.cache = rs
		base = &fetch.Cached{
			Next:   base,
			Store:  rs,
			Prefix: "plat-regions:" + s.config.Storage + ":",
			TTL:    s.config.CacheTTL,
			Logger: s.log,
		}
	}

	base = &fetch.Retry{
		Next:     base,
		Attempts: h.FetchRetries + 1,
		Backoff:  250 * time.Millisecond,
		Logger:   s.log,
	}
	return fetch.NewDedup(base), nil
}

// sceneSources points the scene layer stacks at the configured root level.
func sceneSources(h drilldown.Hierarchy) scene.Sources {
	src := scene.DefaultSources()
	src.Regions = h.Root.Source
	return src
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// API returns the Huma API, e.g. for OpenAPI export.
func (s *Server) API() huma.API { return s.humaAPI }

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI { return s.humaAPI.OpenAPI() }

// Services returns the services the handlers were built with.
func (s *Server) Services() *api.Services { return s.services }

// Close closes sessions, the cache and the database.
func (s *Server) Close() error {
	if s.stop != nil {
		s.stop()
	}
	if s.services != nil {
		s.services.Sessions.Close()
	}
	var errs []error
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.db != nil {
		errs = append(errs, db.Close())
	}
	return errors.Join(errs...)
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.services)
	api.NewDBHandler(s.db, s.boundary, s.files).RegisterRoutes(s.humaAPI)

	// Viewer SSE routes using Huma + Datastar SDK
	viewer.New(s.services.Sessions, s.services.Presets, s.renderer).RegisterRoutes(s.humaAPI)
	s.links.Discover(s.humaAPI, "/health")

	socket := viewer.NewSocket(s.services.Sessions, s.log)
	socket.OriginPatterns = s.config.AllowedOrigins
	s.mux.Handle("GET /api/v1/viewer/{id}/ws", socket)

	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("POST /api/v1/datasets/upload", s.handleDatasetUpload)

	// Raw datasets for map scripts that load GeoJSON directly
	s.mux.Handle("/data/", http.StripPrefix("/data/", cors(http.FileServer(http.Dir(s.services.Datasets.SourcesDir())))))

	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
		s.mux.HandleFunc("/viewer", s.handleViewer)
	}
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	for _, link := range s.links.For("/health") {
		w.Header().Add("Link", link)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-regions",
		"status":  "running",
	})
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	templatePath := filepath.Join(s.config.WebDir, "templates", "viewer.html")
	http.ServeFile(w, r, templatePath)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const maxUpload = 50 << 20

var uploadTypes = map[string]bool{".geojson": true, ".json": true, ".kml": true}

// handleDatasetUpload stores a boundary or point file under the sources
// directory. GeoJSON is parsed before it is written.
func (s *Server) handleDatasetUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		httpError(w, http.StatusBadRequest, "failed to parse upload: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	name := filepath.ToSlash(header.Filename)
	if dir := r.FormValue("dir"); dir != "" {
		name = strings.Trim(dir, "/") + "/" + filepath.Base(name)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !uploadTypes[ext] {
		httpError(w, http.StatusBadRequest, "only .geojson, .json or .kml files are allowed")
		return
	}
	dest, err := s.services.Datasets.ResolveFile(name)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUpload))
	if err != nil {
		httpError(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
		return
	}
	if ext != ".kml" {
		if _, err := geojson.UnmarshalFeatureCollection(data); err != nil {
			httpError(w, http.StatusUnprocessableEntity, "not a GeoJSON feature collection: "+err.Error())
			return
		}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to save file: "+err.Error())
		return
	}
	s.log.Info("dataset uploaded", "file", name, "bytes", len(data))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"file": name})
}

func httpError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
