// Package sqlrows imports the result of a SQL query as a columns payload that
// parser.JSON understands.
package sqlrows

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jrhy/miso"
)

// Importer runs a query on every Extract.
type Importer struct {
	db    *sql.DB
	query string
	args  []interface{}
}

// NewImporter returns an importer for the given query.
func NewImporter(db *sql.DB, query string, args ...interface{}) *Importer {
	return &Importer{db: db, query: query, args: args}
}

type column struct {
	Name string        `json:"name"`
	Type string        `json:"type,omitempty"`
	Data []interface{} `json:"data"`
}

// Extract runs the query and renders the rows column by column.
func (i *Importer) Extract(ctx context.Context) ([]byte, error) {
	rows, err := i.db.QueryContext(ctx, i.query, i.args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	columns := make([]column, len(types))
	for j, ct := range types {
		columns[j] = column{Name: ct.Name(), Type: columnType(ct.DatabaseTypeName()), Data: []interface{}{}}
	}
	cells := make([]interface{}, len(types))
	ptrs := make([]interface{}, len(types))
	for j := range cells {
		ptrs[j] = &cells[j]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for j, v := range cells {
			columns[j].Data = append(columns[j].Data, cellValue(v))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return json.Marshal(map[string]interface{}{"columns": columns})
}

// columnType maps a declared SQL type to a column type name, or "" to let the parser
// infer one.
func columnType(declared string) string {
	d := strings.ToUpper(declared)
	switch {
	case strings.Contains(d, "BOOL"):
		return miso.Boolean.String()
	case strings.Contains(d, "INT"), strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"),
		strings.Contains(d, "DOUB"), strings.Contains(d, "NUM"), strings.Contains(d, "DEC"):
		return miso.Number.String()
	case strings.Contains(d, "DATE"), strings.Contains(d, "TIME"):
		return miso.Time.String()
	case strings.Contains(d, "CHAR"), strings.Contains(d, "TEXT"), strings.Contains(d, "CLOB"):
		return miso.String.String()
	}
	return ""
}

func cellValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// Register adds the "sql" importer (cfg "query") to reg, running queries against db.
func Register(reg *miso.Registry, db *sql.DB) error {
	return reg.RegisterImporter("sql", func(cfg map[string]string) (miso.Importer, error) {
		if cfg["query"] == "" {
			return nil, fmt.Errorf("sql importer needs a query")
		}
		return NewImporter(db, cfg["query"]), nil
	})
}
