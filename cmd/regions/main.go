package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-regions/internal/api"
	"github.com/joeblew999/plat-regions/internal/logger"
	"github.com/joeblew999/plat-regions/internal/server"
)

// Options defines all CLI flags and env vars for the region viewer.
// Flags: --host, --port, --data-dir, --web-dir, --hierarchy, --storage, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_STORAGE, ...
type Options struct {
	Host         string `doc:"Host to bind to" default:"0.0.0.0"`
	Port         int    `doc:"Port to listen on" short:"p" default:"8087"`
	DataDir      string `doc:"Directory holding sources/, presets and the DuckDB file" default:".data"`
	WebDir       string `doc:"Path to web/ directory (optional)" default:""`
	Hierarchy    string `doc:"YAML drill-down hierarchy (defaults to the Moscow districts)" default:""`
	Storage      string `doc:"Boundary storage: file, duckdb or http" default:"file"`
	HTTPTemplate string `doc:"URL template for http storage, e.g. https://host/static/{key}.geojson" default:""`
	Table        string `doc:"DuckDB boundary table" default:"regions"`
	Redis        string `doc:"Redis URL for the shared boundary cache (optional)" default:""`
	CacheTTL     int    `doc:"Boundary cache TTL in seconds" default:"3600"`
	MaxSessions  int    `doc:"Maximum open viewer sessions (0 = unlimited)" default:"256"`
	SessionTTL   int    `doc:"Close sessions idle for this many seconds (0 = never)" default:"1800"`
	Origins      string `doc:"Comma-separated extra WebSocket origin patterns" default:""`
}

func newServer(opts *Options) (*server.Server, error) {
	var origins []string
	if opts.Origins != "" {
		origins = strings.Split(opts.Origins, ",")
	}
	return server.New(server.Config{
		Host:           opts.Host,
		Port:           fmt.Sprintf("%d", opts.Port),
		DataDir:        opts.DataDir,
		WebDir:         opts.WebDir,
		HierarchyFile:  opts.Hierarchy,
		Storage:        opts.Storage,
		HTTPTemplate:   opts.HTTPTemplate,
		Table:          opts.Table,
		RedisURL:       opts.Redis,
		CacheTTL:       time.Duration(opts.CacheTTL) * time.Second,
		MaxSessions:    opts.MaxSessions,
		SessionTTL:     time.Duration(opts.SessionTTL) * time.Second,
		AllowedOrigins: origins,
	})
}

func mustServer(opts *Options) *server.Server {
	srv, err := newServer(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return srv
}

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()
	log := logger.Setup()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		srv := mustServer(opts)
		addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
		httpSrv := &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}

		hooks.OnStart(func() {
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-regions server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s (storage: %s)\n", opts.DataDir, opts.Storage)
			fmt.Println()
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("server error", "err", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(ctx); err != nil {
				log.Warn("shutdown", "err", err)
			}
			if err := srv.Close(); err != nil {
				log.Warn("closing resources", "err", err)
			}
		})
	})

	cli.Root().Use = "regions"
	cli.Root().Short = "Region drill-down map viewer"
	cli.Root().Version = api.Version

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := mustServer(opts)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Root().AddCommand(hierarchyCmd(), badgeCmd(), fieldCmd())

	cli.Run()
}
