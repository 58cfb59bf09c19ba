// Package sqlutil holds the small SQL text utilities the pool needs:
// splitting scripts into statements, building cacheable queries, and
// detecting writes on read-only sessions.
package sqlutil

import "strings"

// Iterator yields the statements of a script one at a time. Statements are
// separated by semicolons. Semicolons inside "--" line comments and "$$"
// delimited bodies do not split. A final statement without a terminating
// semicolon is returned unless it holds only whitespace and comments.
type Iterator struct {
	sql string
}

// NewIterator creates an Iterator over script.
func NewIterator(script string) *Iterator {
	return &Iterator{sql: strings.TrimSpace(script)}
}

// Next returns the next statement with surrounding whitespace trimmed, and
// false once the script is exhausted. Empty statements are skipped.
func (it *Iterator) Next() (string, bool) {
	for it.sql != "" {
		stmt, rest, hasCode := cut(it.sql)
		it.sql = rest
		if hasCode {
			return strings.TrimSpace(stmt), true
		}
	}
	return "", false
}

// cut splits off the first statement of sql.
func cut(sql string) (stmt, rest string, hasCode bool) {
	inDollar := false
	hyphens, dollars := 0, 0

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch c {
		case '-':
			hyphens++
			if hyphens == 2 {
				hyphens = 0
				if nl := strings.IndexByte(sql[i:], '\n'); nl >= 0 {
					i += nl
				} else {
					i = len(sql)
				}
			}
			continue
		case '$':
			hasCode = true
			dollars++
			if dollars == 2 {
				dollars = 0
				inDollar = !inDollar
			}
			continue
		}

		// a lone hyphen is an operator
		if hyphens == 1 {
			hasCode = true
		}
		hyphens, dollars = 0, 0

		if c == ';' && !inDollar {
			return sql[:i], sql[i+1:], hasCode
		}
		if !isSpace(c) {
			hasCode = true
		}
	}
	if hyphens == 1 {
		hasCode = true
	}
	return sql, "", hasCode
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// Split returns every statement of script.
func Split(script string) []string {
	var stmts []string
	it := NewIterator(script)
	for {
		stmt, ok := it.Next()
		if !ok {
			return stmts
		}
		stmts = append(stmts, stmt)
	}
}
