// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package sqltools implements the agent's database tools: table listing,
// schema inspection, query validation and read-only query execution, with
// per-dialect introspection for sqlite, mysql and postgres.
package sqltools

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

// driverNames maps a dialect to its database/sql driver.
var driverNames = map[string]string{
	DialectSQLite:   "sqlite",
	DialectMySQL:    "mysql",
	DialectPostgres: "postgres",
}

// DB wraps a database handle with its SQL dialect.
type DB struct {
	conn    *sql.DB
	dialect string
}

// Open connects to a datasource. The dialect selects both the driver and
// the introspection queries the tools use.
func Open(dialect, dsn string) (*DB, error) {
	driver, ok := driverNames[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect %q (want sqlite, mysql or postgres)", dialect)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s datasource: %w", dialect, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to reach %s datasource: %w", dialect, err)
	}

	return &DB{conn: conn, dialect: dialect}, nil
}

// NewDB wraps an existing connection; used by tests.
func NewDB(conn *sql.DB, dialect string) *DB {
	return &DB{conn: conn, dialect: dialect}
}

// Dialect returns the SQL dialect.
func (d *DB) Dialect() string {
	return d.dialect
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

// ListTables returns the user tables visible to the connection.
func (d *DB) ListTables(ctx context.Context) ([]string, error) {
	var query string
	switch d.dialect {
	case DialectSQLite:
		query = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	case DialectMySQL:
		query = "SHOW TABLES"
	case DialectPostgres:
		query = "SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = 'public' ORDER BY tablename"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", d.dialect)
	}

	rows, err := d.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// TableDDL returns a CREATE TABLE rendering of one table's structure.
func (d *DB) TableDDL(ctx context.Context, table string) (string, error) {
	switch d.dialect {
	case DialectSQLite:
		var ddl sql.NullString
		err := d.conn.QueryRowContext(ctx,
			"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&ddl)
		if err != nil {
			return "", fmt.Errorf("table %q not found: %w", table, err)
		}
		return ddl.String, nil

	case DialectMySQL:
		var name, ddl string
		err := d.conn.QueryRowContext(ctx,
			fmt.Sprintf("SHOW CREATE TABLE %s", quoteIdent(d.dialect, table))).Scan(&name, &ddl)
		if err != nil {
			return "", fmt.Errorf("table %q not found: %w", table, err)
		}
		return ddl, nil

	case DialectPostgres:
		rows, err := d.conn.QueryContext(ctx,
			`SELECT column_name, data_type, is_nullable
			 FROM information_schema.columns
			 WHERE table_schema = 'public' AND table_name = $1
			 ORDER BY ordinal_position`, table)
		if err != nil {
			return "", fmt.Errorf("failed to inspect table %q: %w", table, err)
		}
		defer func() { _ = rows.Close() }()

		var cols []string
		for rows.Next() {
			var name, typ, nullable string
			if err := rows.Scan(&name, &typ, &nullable); err != nil {
				return "", fmt.Errorf("failed to scan column: %w", err)
			}
			col := fmt.Sprintf("\t%s %s", name, typ)
			if nullable == "NO" {
				col += " NOT NULL"
			}
			cols = append(cols, col)
		}
		if err := rows.Err(); err != nil {
			return "", err
		}
		if len(cols) == 0 {
			return "", fmt.Errorf("table %q not found", table)
		}
		return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", table, strings.Join(cols, ",\n")), nil

	default:
		return "", fmt.Errorf("unsupported dialect %q", d.dialect)
	}
}

// SampleRows returns up to limit rows from a table.
func (d *DB) SampleRows(ctx context.Context, table string, limit int) ([]string, [][]string, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(d.dialect, table), limit)
	return d.Query(ctx, query)
}

// Query executes arbitrary SQL and returns column names plus stringified
// rows. Callers are responsible for read-only guarding.
func (d *DB) Query(ctx context.Context, query string) ([]string, [][]string, error) {
	rows, err := d.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out [][]string
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make([]string, len(columns))
		for i, v := range values {
			row[i] = renderValue(v)
		}
		out = append(out, row)
	}
	return columns, out, rows.Err()
}

// Explain dry-runs a query through the database's planner.
func (d *DB) Explain(ctx context.Context, query string) error {
	prefix := "EXPLAIN "
	if d.dialect == DialectSQLite {
		prefix = "EXPLAIN QUERY PLAN "
	}
	rows, err := d.conn.QueryContext(ctx, prefix+query)
	if err != nil {
		return err
	}
	return rows.Close()
}

func renderValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// quoteIdent quotes a table identifier for the dialect.
func quoteIdent(dialect, ident string) string {
	// Strip any existing quoting characters first
	ident = strings.Map(func(r rune) rune {
		switch r {
		case '`', '"', ';':
			return -1
		}
		return r
	}, ident)

	if dialect == DialectMySQL {
		return "`" + ident + "`"
	}
	return `"` + ident + `"`
}
