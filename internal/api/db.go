package api

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-regions/internal/fetch"
)

// DBHandler handles the DuckDB boundary store endpoints.
type DBHandler struct {
	db    *sql.DB
	store *fetch.DuckDB
	// files reads the GeoJSON a dataset import starts from.
	files fetch.Fetcher
}

// NewDBHandler creates a database handler. store and files may be nil
// when no boundary table is configured.
func NewDBHandler(db *sql.DB, store *fetch.DuckDB, files fetch.Fetcher) *DBHandler {
	return &DBHandler{db: db, store: store, files: files}
}

// RegisterRoutes registers database routes with Huma.
func (h *DBHandler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("db")
	huma.Get(api, "/api/v1/tables", h.ListTables, tags)
	huma.Post(api, "/api/v1/query", h.Query, tags)
	huma.Post(api, "/api/v1/tables/regions/import", h.Import, tags)
}

// TablesBody lists the DuckDB tables.
type TablesBody struct {
	Tables []string `json:"tables" doc:"List of table names"`
}

// ListTables returns all DuckDB tables.
func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*struct{ Body TablesBody }, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	rows, err := h.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	return &struct{ Body TablesBody }{Body: TablesBody{Tables: tables}}, nil
}

// QueryInput is the input for SQL queries.
type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" minLength:"1" doc:"Read-only SQL query to execute" example:"SELECT level_key, count(*) FROM regions GROUP BY 1"`
	}
}

// QueryBody holds the rows of a query.
type QueryBody struct {
	Columns []string         `json:"columns" doc:"Column names"`
	Rows    []map[string]any `json:"rows" doc:"Query results"`
	Count   int              `json:"count" doc:"Number of rows returned"`
}

var readOnlyPrefixes = []string{"select", "with", "show", "describe", "summarize", "explain"}

func readOnly(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if strings.Contains(strings.TrimSuffix(q, ";"), ";") {
		return false
	}
	for _, p := range readOnlyPrefixes {
		if strings.HasPrefix(q, p) {
			return true
		}
	}
	return false
}

// Query executes a read-only SQL query against DuckDB.
func (h *DBHandler) Query(ctx context.Context, input *QueryInput) (*struct{ Body QueryBody }, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	if !readOnly(input.Body.Query) {
		return nil, huma.Error400BadRequest("only single read-only statements are accepted")
	}

	rows, err := h.db.QueryContext(ctx, input.Body.Query)
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get columns", err)
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			continue
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return &struct{ Body QueryBody }{Body: QueryBody{Columns: columns, Rows: results, Count: len(results)}}, nil
}

// ImportInput copies a dataset into the boundary table.
type ImportInput struct {
	Body struct {
		Key          string `json:"key" required:"true" doc:"Dataset key to import and to store it under" example:"districts/77"`
		CodeProperty string `json:"codeProperty,omitempty" default:"code" doc:"Feature attribute holding the code"`
		NameProperty string `json:"nameProperty,omitempty" default:"name" doc:"Feature attribute holding the name"`
	}
}

// ImportBody reports an import.
type ImportBody struct {
	Key      string `json:"key"`
	Features int    `json:"features" doc:"Rows written"`
}

// Import reads a dataset from the file store and replaces its rows in the
// boundary table.
func (h *DBHandler) Import(ctx context.Context, input *ImportInput) (*struct{ Body ImportBody }, error) {
	if h.store == nil || h.files == nil {
		return nil, huma.Error503ServiceUnavailable("Boundary table not configured")
	}
	key := input.Body.Key
	fc, err := h.files.Fetch(ctx, key)
	if err != nil {
		return nil, fetchError(key, err)
	}
	codeProp, nameProp := input.Body.CodeProperty, input.Body.NameProperty
	if codeProp == "" {
		codeProp = "code"
	}
	if nameProp == "" {
		nameProp = "name"
	}
	n, err := h.store.Import(ctx, key, codeProp, nameProp, fc)
	if err != nil {
		if errors.Is(err, fetch.ErrInvalidKey) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		return nil, huma.Error500InternalServerError("Import failed", err)
	}
	return &struct{ Body ImportBody }{Body: ImportBody{Key: key, Features: n}}, nil
}
