package pool

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgpool/pkg/errors"
	"github.com/ajitpratap0/pgpool/pkg/metrics"
	"github.com/ajitpratap0/pgpool/pkg/session"
	"github.com/ajitpratap0/pgpool/pkg/sqlutil"
	"github.com/ajitpratap0/pgpool/pkg/stmtcache"
)

// scope is the query surface shared by Client and Transaction. Both run on
// the same session and share its statement cache.
type scope struct {
	q        session.Querier
	cache    *stmtcache.Cache
	readOnly bool
	logger   *zap.Logger
	metrics  *metrics.PoolMetrics
}

// Query runs sql and returns its rows.
func (s *scope) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Protocol(err, "query failed")
	}
	return rows, nil
}

// QueryRow runs sql expecting at most one row. Errors are reported by Scan.
func (s *scope) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return protocolRow{s.q.QueryRow(ctx, sql, args...)}
}

// Exec runs sql without returning rows.
func (s *scope) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := s.q.Exec(ctx, sql, args...)
	if err != nil {
		return tag, errors.Protocol(err, "exec failed")
	}
	return tag, nil
}

// Prepare prepares sql without caching it. paramOIDs optionally pins the
// parameter types.
func (s *scope) Prepare(ctx context.Context, sql string, paramOIDs ...uint32) (*pgconn.StatementDescription, error) {
	if err := s.checkReadOnly(sql); err != nil {
		return nil, err
	}
	sd, err := s.q.Prepare(ctx, sql, paramOIDs)
	if err != nil {
		return nil, errors.Protocol(err, "prepare failed")
	}
	return sd, nil
}

// PrepareCached returns the statement for q from the session's cache,
// preparing and caching it on a miss. A query that failed to build is
// rejected before anything is sent.
func (s *scope) PrepareCached(ctx context.Context, q *sqlutil.Query) (*pgconn.StatementDescription, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}

	key := q.CacheKey()
	if sd, ok := s.cache.Get(key); ok {
		s.metrics.StatementCache.WithLabelValues(metrics.ResultHit).Inc()
		return sd, nil
	}
	s.metrics.StatementCache.WithLabelValues(metrics.ResultMiss).Inc()

	s.logger.Debug("preparing query", zap.String("sql", q.SQL))
	sd, err := s.Prepare(ctx, q.SQL, q.ParamOIDs...)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, sd)
	return sd, nil
}

// QueryCached runs q through its cached statement.
func (s *scope) QueryCached(ctx context.Context, q *sqlutil.Query) (pgx.Rows, error) {
	sd, err := s.PrepareCached(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, sd.Name, q.Args...)
}

// QueryRowCached runs q through its cached statement expecting at most one row.
func (s *scope) QueryRowCached(ctx context.Context, q *sqlutil.Query) pgx.Row {
	sd, err := s.PrepareCached(ctx, q)
	if err != nil {
		return errRow{err}
	}
	return s.QueryRow(ctx, sd.Name, q.Args...)
}

// ExecCached runs q through its cached statement without returning rows.
func (s *scope) ExecCached(ctx context.Context, q *sqlutil.Query) (pgconn.CommandTag, error) {
	sd, err := s.PrepareCached(ctx, q)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return s.Exec(ctx, sd.Name, q.Args...)
}

// StatementCache returns the cache shared by the session's scopes.
func (s *scope) StatementCache() *stmtcache.Cache { return s.cache }

// ReadOnly reports whether writes are refused.
func (s *scope) ReadOnly() bool { return s.readOnly }

func (s *scope) checkReadOnly(sql string) error {
	if !s.readOnly {
		return nil
	}
	if kw, found := sqlutil.FirstWriteKeyword(sql); found {
		return errors.Newf(errors.ErrorTypeReadOnly, "%s statement on read-only session", kw).
			WithDetail("sql", sql)
	}
	return nil
}

type protocolRow struct {
	row pgx.Row
}

func (r protocolRow) Scan(dest ...any) error {
	return errors.Protocol(r.row.Scan(dest...), "query failed")
}

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error { return r.err }
