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
package relay

import (
	"fmt"
	"strings"
)

// FormatToolCall renders a tool invocation as a short narrative line.
// Returns "" for tools with no display mapping.
func FormatToolCall(name string, args map[string]interface{}) string {
	switch name {
	case "sql_db_query":
		query, _ := args["query"].(string)
		return fmt.Sprintf("⚡ **Executing SQL**\n```sql\n%s\n```\n\n", strings.TrimSpace(query))
	case "sql_db_schema":
		tables := formatTableNames(args["table_names"])
		if tables != "" {
			return fmt.Sprintf("🔍 **Checking Schema:** `%s`\n\n", tables)
		}
		return "🔍 **Checking Schema...**\n\n"
	case "sql_db_list_tables":
		return "📋 **Listing Tables...**\n\n"
	case "sql_db_query_checker":
		return "✅ **Validating Query...**\n\n"
	}
	return ""
}

// FormatToolResult renders a tool result as a one-line success or failure
// summary. Only SQL tools produce output; returns "" otherwise.
func FormatToolResult(name, content string) string {
	if !strings.Contains(strings.ToLower(name), "sql") {
		return ""
	}
	if strings.Contains(strings.ToLower(content), "error") {
		return fmt.Sprintf("✗ **Query failed:** %s\n\n", strings.TrimSpace(truncate(content, 300)))
	}
	return "✓ Query executed successfully\n\n"
}

func formatTableNames(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
