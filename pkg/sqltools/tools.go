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
package sqltools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teradata-labs/weft/pkg/tool"
)

// MaxDisplayRows caps how many result rows are rendered back to the LLM.
const MaxDisplayRows = 50

// sampleRowCount is how many example rows schema inspection includes.
const sampleRowCount = 3

// RegisterAll registers the SQL tool suite against one database handle.
func RegisterAll(registry *tool.Registry, db *DB) {
	registry.Register(NewListTablesTool(db))
	registry.Register(NewSchemaTool(db))
	registry.Register(NewQueryTool(db))
	registry.Register(NewQueryCheckerTool(db))
}

// ListTablesTool enumerates the tables in the connected database.
type ListTablesTool struct {
	db *DB
}

func NewListTablesTool(db *DB) *ListTablesTool {
	return &ListTablesTool{db: db}
}

func (t *ListTablesTool) Name() string { return "sql_db_list_tables" }

func (t *ListTablesTool) Description() string {
	return "List all tables in the database. Input is ignored. Output is a comma-separated list of table names."
}

func (t *ListTablesTool) InputSchema() *tool.JSONSchema {
	return tool.NewObjectSchema("List database tables", nil, nil)
}

func (t *ListTablesTool) Dialect() string { return t.db.dialect }

func (t *ListTablesTool) Execute(ctx context.Context, _ map[string]interface{}) (*tool.Result, error) {
	start := time.Now()
	tables, err := t.db.ListTables(ctx)
	if err != nil {
		return tool.NewErrorResult("list_tables_failed", err.Error()), nil
	}
	if len(tables) == 0 {
		return successResult("No tables found in the database.", start), nil
	}
	return successResult(strings.Join(tables, ", "), start), nil
}

// SchemaTool returns DDL and sample rows for the requested tables.
type SchemaTool struct {
	db *DB
}

func NewSchemaTool(db *DB) *SchemaTool {
	return &SchemaTool{db: db}
}

func (t *SchemaTool) Name() string { return "sql_db_schema" }

func (t *SchemaTool) Description() string {
	return "Get the schema and sample rows for the given tables. " +
		"Input is a comma-separated list of table names. " +
		"Call sql_db_list_tables first to find valid table names."
}

func (t *SchemaTool) InputSchema() *tool.JSONSchema {
	return tool.NewObjectSchema("Inspect table schemas",
		map[string]*tool.JSONSchema{
			"table_names": tool.NewStringSchema("Comma-separated list of table names to inspect"),
		},
		[]string{"table_names"})
}

func (t *SchemaTool) Dialect() string { return t.db.dialect }

func (t *SchemaTool) Execute(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
	start := time.Now()
	raw, _ := params["table_names"].(string)
	names := splitTableNames(raw)
	if len(names) == 0 {
		return tool.NewErrorResult("missing_table_names",
			"table_names is required: a comma-separated list of table names"), nil
	}

	var sections []string
	for _, name := range names {
		ddl, err := t.db.TableDDL(ctx, name)
		if err != nil {
			return &tool.Result{
				Success: false,
				Error: &tool.Error{
					Code:       "table_not_found",
					Message:    err.Error(),
					Suggestion: "Call sql_db_list_tables to see the available tables.",
				},
			}, nil
		}

		section := ddl
		columns, rows, err := t.db.SampleRows(ctx, name, sampleRowCount)
		if err == nil && len(rows) > 0 {
			section += fmt.Sprintf("\n\n%d sample rows from %s:\n%s",
				len(rows), name, RenderTable(columns, rows))
		}
		sections = append(sections, section)
	}
	return successResult(strings.Join(sections, "\n\n"), start), nil
}

// QueryTool executes a read-only SQL query and renders the result set.
type QueryTool struct {
	db *DB
}

func NewQueryTool(db *DB) *QueryTool {
	return &QueryTool{db: db}
}

func (t *QueryTool) Name() string { return "sql_db_query" }

func (t *QueryTool) Description() string {
	return "Execute a read-only SQL query against the database and return the results. " +
		"Only SELECT queries are allowed. " +
		"If the query fails, rewrite it and try again. " +
		"Use sql_db_schema to check table structure before querying."
}

func (t *QueryTool) InputSchema() *tool.JSONSchema {
	return tool.NewObjectSchema("Execute a read-only SQL query",
		map[string]*tool.JSONSchema{
			"query": tool.NewStringSchema("The SQL query to execute. Must be a SELECT statement."),
		},
		[]string{"query"})
}

func (t *QueryTool) Dialect() string { return t.db.dialect }

func (t *QueryTool) Execute(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
	start := time.Now()
	query, _ := params["query"].(string)

	if err := CheckReadOnly(query); err != nil {
		return &tool.Result{
			Success: false,
			Error: &tool.Error{
				Code:       "query_rejected",
				Message:    fmt.Sprintf("Error: %s", err.Error()),
				Suggestion: "Rewrite the query as a plain SELECT statement.",
			},
		}, nil
	}

	columns, rows, err := t.db.Query(ctx, query)
	if err != nil {
		return &tool.Result{
			Success: false,
			Error: &tool.Error{
				Code:       "query_failed",
				Message:    fmt.Sprintf("Error: %s", err.Error()),
				Retryable:  true,
				Suggestion: "Check the table and column names with sql_db_schema, then rewrite the query.",
			},
		}, nil
	}

	if len(rows) == 0 {
		return successResult("Query executed successfully but returned no rows.", start), nil
	}

	total := len(rows)
	shown := rows
	header := fmt.Sprintf("Query returned %d rows:", total)
	if total > MaxDisplayRows {
		shown = rows[:MaxDisplayRows]
		header = fmt.Sprintf("Query returned %d rows (showing first %d):", total, MaxDisplayRows)
	}

	result := successResult(header+"\n"+RenderTable(columns, shown), start)
	result.Metadata = map[string]interface{}{
		"row_count": total,
		"truncated": total > MaxDisplayRows,
	}
	return result, nil
}

// QueryCheckerTool validates a query without materializing results. It runs
// the static read-only guard and then a planner dry-run via EXPLAIN.
type QueryCheckerTool struct {
	db *DB
}

func NewQueryCheckerTool(db *DB) *QueryCheckerTool {
	return &QueryCheckerTool{db: db}
}

func (t *QueryCheckerTool) Name() string { return "sql_db_query_checker" }

func (t *QueryCheckerTool) Description() string {
	return "Check whether a SQL query is valid before executing it. " +
		"Use this to validate queries produced from complex reasoning before calling sql_db_query."
}

func (t *QueryCheckerTool) InputSchema() *tool.JSONSchema {
	return tool.NewObjectSchema("Validate a SQL query",
		map[string]*tool.JSONSchema{
			"query": tool.NewStringSchema("The SQL query to validate"),
		},
		[]string{"query"})
}

func (t *QueryCheckerTool) Dialect() string { return t.db.dialect }

func (t *QueryCheckerTool) Execute(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
	start := time.Now()
	query, _ := params["query"].(string)

	if err := CheckReadOnly(query); err != nil {
		return successResult(fmt.Sprintf("Invalid query: %s", err.Error()), start), nil
	}
	if err := CheckBalance(query); err != nil {
		return successResult(fmt.Sprintf("Invalid query: %s", err.Error()), start), nil
	}
	if err := t.db.Explain(ctx, query); err != nil {
		return successResult(fmt.Sprintf("Invalid query: %s", err.Error()), start), nil
	}
	return successResult("Query is valid.", start), nil
}

func successResult(text string, start time.Time) *tool.Result {
	return &tool.Result{
		Success:         true,
		Data:            text,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}

func splitTableNames(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}
