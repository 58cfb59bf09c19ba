// Package session defines the boundary between the pool and the wire-protocol
// client. The pool never talks to the network itself: it dials sessions
// through a Dialer, forwards the asynchronous messages of their Stream, and
// recycles them with SimpleQuery.
//
// Package pgxsession provides the pgx/v5 implementation; package sessiontest
// provides in-memory fakes.
package session

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ajitpratap0/pgpool/pkg/config"
)

// Querier is the query surface shared by sessions and transactions.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Prepare creates a named server-side statement for sql. paramOIDs pins the
	// parameter types when the implementation supports it; nil lets the
	// server infer them. The returned description's Name can be passed as the
	// sql argument of Query, QueryRow and Exec.
	Prepare(ctx context.Context, sql string, paramOIDs []uint32) (*pgconn.StatementDescription, error)
}

// Tx is an open transaction or savepoint. Begin on a Tx opens a nested
// savepoint that must be finished before its parent.
type Tx interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Session is one established, authenticated connection.
type Session interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
	// SimpleQuery runs sql over the simple query protocol, which accepts
	// several statements separated by semicolons and the empty query.
	SimpleQuery(ctx context.Context, sql string) error
	IsClosed() bool
	Close(ctx context.Context) error
}

// Poller is implemented by sessions that only read asynchronous messages
// while a request is in flight. Poll blocks until a message was read, the
// context is done, or the session fails.
type Poller interface {
	Poll(ctx context.Context) error
}

// Canceler is implemented by sessions that can ask the server to abort the
// statement currently running on them.
type Canceler interface {
	CancelRequest(ctx context.Context) error
}

// Dialer establishes new sessions. The Stream returned alongside a Session
// yields its asynchronous messages until the session ends.
type Dialer interface {
	Dial(ctx context.Context, cfg *config.PoolConfig) (Session, Stream, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, cfg *config.PoolConfig) (Session, Stream, error)

// Dial calls f(ctx, cfg).
func (f DialerFunc) Dial(ctx context.Context, cfg *config.PoolConfig) (Session, Stream, error) {
	return f(ctx, cfg)
}
