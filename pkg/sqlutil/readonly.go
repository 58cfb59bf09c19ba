package sqlutil

import "strings"

var writeKeywords = map[string]struct{}{
	"UPDATE":   {},
	"INSERT":   {},
	"ALTER":    {},
	"CREATE":   {},
	"DROP":     {},
	"GRANT":    {},
	"REVOKE":   {},
	"DELETE":   {},
	"TRUNCATE": {},
}

// IsWrite reports whether sql contains a data- or schema-modifying keyword.
// Keywords are matched as whole words outside quotes and comments, so a
// column named created_at is not a write.
func IsWrite(sql string) bool {
	_, found := FirstWriteKeyword(sql)
	return found
}

// FirstWriteKeyword returns the first write keyword in sql, upper-cased.
func FirstWriteKeyword(sql string) (string, bool) {
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'' || c == '"':
			end := skipQuoted(sql, i, c)
			if end < 0 {
				return "", false
			}
			i = end
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case isWordByte(c):
			j := i
			for j < len(sql) && isWordByte(sql[j]) {
				j++
			}
			word := strings.ToUpper(sql[i:j])
			if _, ok := writeKeywords[word]; ok {
				return word, true
			}
			i = j - 1
		}
	}
	return "", false
}

func isWordByte(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
