package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pgpool/pkg/errors"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name:   "simple",
			script: "SELECT 1; SELECT 2;",
			want:   []string{"SELECT 1", "SELECT 2"},
		},
		{
			name:   "trailing statement without semicolon",
			script: "SELECT 1;\nSELECT 2",
			want:   []string{"SELECT 1", "SELECT 2"},
		},
		{
			name:   "empty statements skipped",
			script: ";;SELECT 1;;",
			want:   []string{"SELECT 1"},
		},
		{
			name:   "semicolon in line comment",
			script: "SELECT 1; -- first; second\nSELECT 2;",
			want:   []string{"SELECT 1", "-- first; second\nSELECT 2"},
		},
		{
			name:   "trailing comment only",
			script: "SELECT 1; -- done",
			want:   []string{"SELECT 1"},
		},
		{
			name:   "dollar quoted body",
			script: "CREATE FUNCTION f() RETURNS int AS $$ SELECT 1; $$ LANGUAGE sql; SELECT f();",
			want: []string{
				"CREATE FUNCTION f() RETURNS int AS $$ SELECT 1; $$ LANGUAGE sql",
				"SELECT f()",
			},
		},
		{
			name:   "subtraction is code",
			script: "SELECT 2 - 1;",
			want:   []string{"SELECT 2 - 1"},
		},
		{
			name:   "placeholders do not open a block",
			script: "SELECT $1; SELECT $2;",
			want:   []string{"SELECT $1", "SELECT $2"},
		},
		{
			name:   "blank",
			script: "  \n ",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.script))
		})
	}
}

func TestSplitRecyclingScript(t *testing.T) {
	script := `CLOSE ALL;
SET SESSION AUTHORIZATION DEFAULT;
RESET ALL;
UNLISTEN *;
SELECT pg_advisory_unlock_all();
DISCARD TEMP;
DISCARD SEQUENCES;`
	stmts := Split(script)
	require.Len(t, stmts, 7)
	assert.Equal(t, "UNLISTEN *", stmts[3])
}

func TestPlaceholders(t *testing.T) {
	n, err := Placeholders("SELECT $1, $2 WHERE a = '$3' -- $4\n AND b = $1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = Placeholders("SELECT $1, $3")
	assert.True(t, errors.IsType(err, errors.ErrorTypeSQLFormat))

	_, err = Placeholders("SELECT 'unterminated")
	assert.True(t, errors.IsType(err, errors.ErrorTypeSQLFormat))

	_, err = Placeholders("SELECT $0")
	assert.Error(t, err)

	n, err = Placeholders(`SELECT 'it''s $1'`)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type account struct {
	ID int64
}

func TestQueryConstruction(t *testing.T) {
	q := NewQuery("SELECT * FROM accounts WHERE id = $1", 7).WithTypes(20)
	require.NoError(t, q.Err())
	assert.False(t, q.IsTyped())
	key := q.CacheKey()
	assert.Equal(t, "SELECT * FROM accounts WHERE id = $1", key.Query())
	assert.Equal(t, []uint32{20}, key.Params())

	bad := NewQuery("SELECT $1, $2", 1)
	assert.ErrorIs(t, bad.Err(), errors.ErrSQLFormat)

	bad = NewQuery("SELECT $1", 1).WithTypes(20, 25)
	assert.ErrorIs(t, bad.Err(), errors.ErrSQLFormat)

	assert.ErrorIs(t, NewQuery("").Err(), errors.ErrSQLFormat)
	assert.ErrorIs(t, Errorf("bad column %q", "x").Err(), errors.ErrSQLFormat)

	var nilQuery *Query
	assert.ErrorIs(t, nilQuery.Err(), errors.ErrSQLFormat)
}

func TestTypedQueryKey(t *testing.T) {
	a := Typed[account]("SELECT id FROM accounts WHERE id = $1", 1)
	b := Typed[account]("SELECT id FROM accounts WHERE id = $1", 2)
	require.NoError(t, a.Err())
	assert.True(t, a.IsTyped())
	assert.True(t, a.CacheKey().Equal(b.CacheKey()))
	assert.False(t, a.CacheKey().Equal(NewQuery("SELECT id FROM accounts WHERE id = $1", 1).CacheKey()))
}

func TestIsWrite(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT * FROM t", false},
		{"select created_at, updated_by from t", false},
		{"update t set x = 1", true},
		{"WITH x AS (DELETE FROM t RETURNING *) SELECT * FROM x", true},
		{"SELECT 'DROP TABLE t'", false},
		{`SELECT "insert" FROM t`, false},
		{"SELECT 1 -- truncate later", false},
		{"Truncate t", true},
		{"GRANT SELECT ON t TO u", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsWrite(tt.sql), tt.sql)
	}

	kw, ok := FirstWriteKeyword("create table t (id int)")
	require.True(t, ok)
	assert.Equal(t, "CREATE", kw)
}
