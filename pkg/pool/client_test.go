package pool

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pgpool/pkg/config"
	"github.com/ajitpratap0/pgpool/pkg/errors"
	"github.com/ajitpratap0/pgpool/pkg/metrics"
	"github.com/ajitpratap0/pgpool/pkg/sqlutil"
)

const userByID = "SELECT name FROM users WHERE id = $1"

type userRow struct {
	Name string
}

func TestTransactionsAndSavepoints(t *testing.T) {
	h := newHarness(t, nil, nil)
	obj := h.get(t)
	defer obj.Release()
	ctx := context.Background()

	tx, err := obj.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, obj.ID(), tx.ID())

	_, err = tx.Exec(ctx, "INSERT INTO users (name) VALUES ($1)", "ada")
	require.NoError(t, err)

	nested, err := tx.Begin(ctx)
	require.NoError(t, err)
	_, err = nested.Exec(ctx, "UPDATE users SET name = $1", "grace")
	require.NoError(t, err)
	require.NoError(t, nested.Rollback(ctx))

	named, err := tx.Savepoint(ctx, "audit")
	require.NoError(t, err)
	require.NoError(t, named.Commit(ctx))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, []string{
		"BEGIN",
		"INSERT INTO users (name) VALUES ($1)",
		"SAVEPOINT sp_1",
		"UPDATE users SET name = $1",
		"ROLLBACK TO SAVEPOINT sp_1",
		`SAVEPOINT "audit"`,
		`RELEASE SAVEPOINT "audit"`,
		"COMMIT",
	}, h.session(t, 0).Statements())
}

func TestTransactionSharesStatementCache(t *testing.T) {
	h := newHarness(t, nil, nil)
	obj := h.get(t)
	defer obj.Release()
	ctx := context.Background()

	tx, err := obj.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.PrepareCached(ctx, sqlutil.NewQuery(userByID, 1))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, err = obj.PrepareCached(ctx, sqlutil.NewQuery(userByID, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, h.session(t, 0).Prepares())
	assert.Same(t, obj.StatementCache(), tx.StatementCache())
}

func TestCachedStatements(t *testing.T) {
	h := newHarness(t, nil, nil)
	obj := h.get(t)
	defer obj.Release()
	ctx := context.Background()
	s := h.session(t, 0)
	s.SetResult(userByID, []any{"ada"})

	rows, err := obj.QueryCached(ctx, sqlutil.NewQuery(userByID, 1))
	require.NoError(t, err)
	rows.Close()

	var name string
	require.NoError(t, obj.QueryRowCached(ctx, sqlutil.NewQuery(userByID, 1)).Scan(&name))
	assert.Equal(t, "ada", name)
	assert.Equal(t, 1, s.Prepares(), "second use is a cache hit")

	_, err = obj.PrepareCached(ctx, sqlutil.Typed[userRow](userByID, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Prepares(), "typed queries have their own entry")

	_, err = obj.PrepareCached(ctx, sqlutil.NewQuery(userByID, 1).WithTypes(23))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Prepares(), "parameter types are part of the key")

	_, err = obj.ExecCached(ctx, sqlutil.NewQuery("DELETE FROM users WHERE id = $1", 1))
	require.NoError(t, err)
	assert.Equal(t, 4, s.Prepares())
	assert.Equal(t, 4, obj.StatementCache().Len())

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.StatementCache.WithLabelValues(metrics.ResultHit)))
	assert.Equal(t, float64(4), testutil.ToFloat64(h.metrics.StatementCache.WithLabelValues(metrics.ResultMiss)))

	assert.Equal(t, 1, h.pool.ClearStatementCaches())
	assert.Zero(t, obj.StatementCache().Len())
	require.NoError(t, obj.QueryRowCached(ctx, sqlutil.NewQuery(userByID, 1)).Scan(&name))
	assert.Equal(t, 5, s.Prepares())
}

func TestReplaceConfigClearsCheckedOutCaches(t *testing.T) {
	h := newHarness(t, nil, nil)
	obj := h.get(t)
	defer obj.Release()

	_, err := obj.PrepareCached(context.Background(), sqlutil.NewQuery(userByID, 1))
	require.NoError(t, err)
	require.Equal(t, 1, obj.StatementCache().Len())

	next := h.pool.Config().Clone()
	next.RecyclingMethod = config.RecyclingClean
	require.NoError(t, h.pool.ReplaceConfig(next))
	assert.Zero(t, obj.StatementCache().Len())
}

func TestMalformedQueryRejectedBeforeNetwork(t *testing.T) {
	h := newHarness(t, nil, nil)
	obj := h.get(t)
	defer obj.Release()
	ctx := context.Background()

	tests := []*sqlutil.Query{
		sqlutil.NewQuery("SELECT $1, $2", 1),
		sqlutil.NewQuery(userByID, 1).WithTypes(23, 25),
		sqlutil.Errorf("no table for %q", "widgets"),
	}
	for _, q := range tests {
		_, err := obj.QueryCached(ctx, q)
		assert.ErrorIs(t, err, errors.ErrSQLFormat)
	}
	assert.Zero(t, h.session(t, 0).Prepares())
	assert.Empty(t, h.session(t, 0).Statements())
}

func TestReadOnlySessionRefusesWrites(t *testing.T) {
	h := newHarness(t, nil, func(c *config.PoolConfig) { c.ReadOnly = true })
	obj := h.get(t)
	defer obj.Release()
	ctx := context.Background()
	s := h.session(t, 0)

	assert.True(t, obj.ReadOnly())
	assert.True(t, s.ReadOnly, "dialer is asked for a read-only session")

	_, err := obj.ExecCached(ctx, sqlutil.NewQuery("UPDATE users SET name = $1", "x"))
	assert.ErrorIs(t, err, errors.ErrReadOnly)
	assert.ErrorIs(t, obj.SimpleQuery(ctx, "DROP TABLE users"), errors.ErrReadOnly)
	_, err = obj.Prepare(ctx, "insert into users values ($1)")
	assert.ErrorIs(t, err, errors.ErrReadOnly)
	assert.Zero(t, s.Prepares())

	_, err = obj.PrepareCached(ctx, sqlutil.NewQuery(`SELECT "update" FROM audit WHERE note = 'delete'`))
	assert.NoError(t, err)
	assert.Equal(t, 1, s.Prepares())
}
