package sqlutil

import (
	"reflect"
	"strconv"

	"github.com/ajitpratap0/pgpool/pkg/errors"
	"github.com/ajitpratap0/pgpool/pkg/stmtcache"
)

// Query is a statement ready for cached preparation. A construction error
// is kept on the Query and reported by Err, so callers can pass the result
// of a builder straight to the cached query methods.
type Query struct {
	SQL       string
	Args      []any
	ParamOIDs []uint32

	rowType reflect.Type
	err     error
}

// NewQuery builds a dynamic query. Its cache identity is the SQL text plus
// the parameter OIDs set with WithTypes.
func NewQuery(sql string, args ...any) *Query {
	q := &Query{SQL: sql, Args: args}
	q.err = checkPlaceholders(sql, len(args))
	return q
}

// Typed builds a query whose text is fixed for the row shape T, so its cache
// identity is T alone.
func Typed[T any](sql string, args ...any) *Query {
	q := NewQuery(sql, args...)
	q.rowType = reflect.TypeFor[T]()
	return q
}

// Errorf returns a Query that fails with a SqlFormat error.
func Errorf(format string, args ...any) *Query {
	return &Query{err: errors.Newf(errors.ErrorTypeSQLFormat, format, args...)}
}

// WithTypes pins the parameter types by OID. It must be given one OID per
// argument.
func (q *Query) WithTypes(oids ...uint32) *Query {
	if q.err != nil {
		return q
	}
	if len(oids) != len(q.Args) {
		q.err = errors.Newf(errors.ErrorTypeSQLFormat,
			"%d parameter types for %d arguments", len(oids), len(q.Args))
		return q
	}
	q.ParamOIDs = oids
	return q
}

// Err returns the construction error, if any.
func (q *Query) Err() error {
	if q == nil {
		return errors.New(errors.ErrorTypeSQLFormat, "nil query")
	}
	return q.err
}

// IsTyped reports whether the query is keyed by row shape.
func (q *Query) IsTyped() bool { return q.rowType != nil }

// CacheKey returns the statement cache identity. For dynamic queries the
// key borrows the query's OID slice.
func (q *Query) CacheKey() stmtcache.Key {
	if q.rowType != nil {
		return stmtcache.TypedKey(q.rowType)
	}
	return stmtcache.QueryKey(q.SQL, q.ParamOIDs)
}

// Placeholders returns the highest $N placeholder referenced by sql. It
// ignores quoted literals, quoted identifiers and line comments.
func Placeholders(sql string) (int, error) {
	max := 0
	seen := map[int]bool{}
	for i := 0; i < len(sql); i++ {
		switch c := sql[i]; {
		case c == '\'' || c == '"':
			end := skipQuoted(sql, i, c)
			if end < 0 {
				return 0, errors.Newf(errors.ErrorTypeSQLFormat, "unterminated %c quote at offset %d", c, i)
			}
			i = end
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case c == '$' && i+1 < len(sql) && isDigit(sql[i+1]):
			j := i + 1
			for j < len(sql) && isDigit(sql[j]) {
				j++
			}
			n, err := strconv.Atoi(sql[i+1 : j])
			if err != nil || n == 0 {
				return 0, errors.Newf(errors.ErrorTypeSQLFormat, "invalid placeholder %q", sql[i:j])
			}
			seen[n] = true
			if n > max {
				max = n
			}
			i = j - 1
		}
	}
	for n := 1; n <= max; n++ {
		if !seen[n] {
			return 0, errors.Newf(errors.ErrorTypeSQLFormat, "placeholder $%d is never used", n)
		}
	}
	return max, nil
}

func checkPlaceholders(sql string, args int) error {
	if sql == "" {
		return errors.New(errors.ErrorTypeSQLFormat, "empty query")
	}
	n, err := Placeholders(sql)
	if err != nil {
		return err
	}
	if n != args {
		return errors.Newf(errors.ErrorTypeSQLFormat, "query uses %d parameters but %d arguments given", n, args)
	}
	return nil
}

// skipQuoted returns the index of the quote closing the one at start, or -1.
// Doubled quotes are escapes.
func skipQuoted(sql string, start int, quote byte) int {
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != quote {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return -1
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
