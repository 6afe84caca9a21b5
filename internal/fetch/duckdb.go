package fetch

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/paulmach/orb/geojson"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DuckDB reads boundaries from a spatial table with the columns
// (level_key, code, name, geom). The spatial extension must be loaded.
type DuckDB struct {
	db    *sql.DB
	table string
}

// NewDuckDB binds a fetcher to a table. The name is used verbatim in SQL
// and is therefore restricted to plain identifiers.
func NewDuckDB(db *sql.DB, table string) (*DuckDB, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &DuckDB{db: db, table: table}, nil
}

// EnsureSchema creates the boundary table if it does not exist.
func (d *DuckDB) EnsureSchema(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (level_key VARCHAR, code VARCHAR, name VARCHAR, geom GEOMETRY)`, d.table))
	if err != nil {
		return fmt.Errorf("creating %s: %w", d.table, err)
	}
	return nil
}

// Import loads every feature of fc under key, replacing previous rows.
func (d *DuckDB) Import(ctx context.Context, key, codeProp, nameProp string, fc *geojson.FeatureCollection) (int, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE level_key = ?`, d.table), key); err != nil {
		return 0, fmt.Errorf("clearing %s: %w", key, err)
	}
	insert := fmt.Sprintf(`INSERT INTO %s VALUES (?, ?, ?, ST_GeomFromGeoJSON(?))`, d.table)
	n := 0
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		g, err := geojson.NewGeometry(f.Geometry).MarshalJSON()
		if err != nil {
			return 0, fmt.Errorf("encoding feature %d: %w", n, err)
		}
		if _, err := tx.ExecContext(ctx, insert, key,
			propText(f.Properties, codeProp), propText(f.Properties, nameProp), string(g)); err != nil {
			return 0, fmt.Errorf("inserting feature %d: %w", n, err)
		}
		n++
	}
	return n, tx.Commit()
}

// Fetch implements Fetcher. A key with no rows maps to ErrNotFound.
func (d *DuckDB) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT code, name, ST_AsGeoJSON(geom) FROM %s WHERE level_key = ? ORDER BY rowid`, d.table), key)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", key, err)
	}
	defer rows.Close()

	fc := geojson.NewFeatureCollection()
	for rows.Next() {
		var code, name, geom sql.NullString
		if err := rows.Scan(&code, &name, &geom); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", key, err)
		}
		g, err := geojson.UnmarshalGeometry([]byte(geom.String))
		if err != nil {
			return nil, fmt.Errorf("decoding geometry of %s/%s: %w", key, code.String, err)
		}
		f := geojson.NewFeature(g.Geometry())
		f.Properties["code"] = code.String
		f.Properties["name"] = name.String
		fc.Append(f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fc, nil
}

func propText(p geojson.Properties, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
