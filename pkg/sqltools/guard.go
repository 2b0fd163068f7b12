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
	"fmt"
	"strings"
)

// forbiddenKeywords are statement kinds the agent must never issue.
// Presence anywhere in the query rejects it, which is deliberately
// stricter than a parse: a SELECT that mentions DELETE in a string
// literal is rare enough to not be worth the parser.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "TRUNCATE", "CREATE",
}

// CheckReadOnly rejects any query that is not a plain read. Returns nil
// when the query is allowed.
func CheckReadOnly(query string) error {
	upper := strings.ToUpper(strings.TrimSpace(query))
	if upper == "" {
		return fmt.Errorf("empty query")
	}

	for _, kw := range forbiddenKeywords {
		if containsKeyword(upper, kw) {
			return fmt.Errorf("only SELECT queries are allowed, found forbidden keyword: %s", kw)
		}
	}

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("only SELECT queries are allowed, query must start with SELECT")
	}
	return nil
}

// containsKeyword reports whether kw appears as a standalone word.
func containsKeyword(upper, kw string) bool {
	idx := 0
	for {
		i := strings.Index(upper[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isWordChar(upper[start-1])
		afterOK := end == len(upper) || !isWordChar(upper[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// CheckBalance catches obviously malformed queries before they reach
// the database: unbalanced parentheses or an unterminated string.
func CheckBalance(query string) error {
	depth := 0
	inSingle := false
	inDouble := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced parentheses: unexpected ')'")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced parentheses: %d unclosed '('", depth)
	}
	if inSingle || inDouble {
		return fmt.Errorf("unterminated string literal")
	}
	return nil
}
