// Package pgxsession implements the session boundary on top of pgx/v5.
//
// Asynchronous messages are captured through pgconn's OnNotification and
// OnNotice hooks into a session.Pipe. pgx only reads from the socket while a
// request is in flight, so an otherwise idle session surfaces notifications
// when its Poll method (pgx WaitForNotification) is driven.
package pgxsession

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgpool/pkg/config"
	"github.com/ajitpratap0/pgpool/pkg/session"
)

// Dialer connects with pgx.ConnectConfig.
type Dialer struct {
	logger *zap.Logger
	// Configure, when set, adjusts each connection config before dialing.
	Configure func(*pgx.ConnConfig)
}

var _ session.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer. A nil logger disables logging.
func NewDialer(logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{logger: logger.With(zap.String("component", "pgx_dialer"))}
}

// Dial establishes one session for cfg.ConnString. Read-only pools open
// sessions with default_transaction_read_only enabled.
func (d *Dialer) Dial(ctx context.Context, cfg *config.PoolConfig) (session.Session, session.Stream, error) {
	connConfig, err := pgx.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.ReadOnly {
		if connConfig.RuntimeParams == nil {
			connConfig.RuntimeParams = make(map[string]string)
		}
		connConfig.RuntimeParams["default_transaction_read_only"] = "on"
	}

	pipe := session.NewPipe()
	connConfig.OnNotification = func(_ *pgconn.PgConn, n *pgconn.Notification) {
		pipe.Push(session.NotificationMessage(n))
	}
	connConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		pipe.Push(session.NoticeMessage(n))
	}
	if d.Configure != nil {
		d.Configure(connConfig)
	}

	conn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		pipe.Close(err)
		return nil, nil, err
	}

	d.logger.Debug("session established",
		zap.String("host", connConfig.Host),
		zap.String("database", connConfig.Database),
		zap.Uint32("backend_pid", conn.PgConn().PID()))

	go func() {
		<-conn.PgConn().CleanupDone()
		pipe.Close(nil)
	}()

	return &Session{conn: conn}, pipe, nil
}

// Session adapts *pgx.Conn to session.Session.
type Session struct {
	conn *pgx.Conn
}

var (
	_ session.Session  = (*Session)(nil)
	_ session.Poller   = (*Session)(nil)
	_ session.Canceler = (*Session)(nil)
)

// Wrap adapts an established connection. Its asynchronous messages are not
// captured unless the caller configured the hooks before connecting.
func Wrap(conn *pgx.Conn) *Session {
	return &Session{conn: conn}
}

// Conn returns the underlying connection.
func (s *Session) Conn() *pgx.Conn { return s.conn }

func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.conn.Query(ctx, sql, args...)
}

func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.conn.QueryRow(ctx, sql, args...)
}

func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.conn.Exec(ctx, sql, args...)
}

// Prepare prepares sql under a name derived from the text. pgx infers the
// parameter types on the server, so paramOIDs only take part in the caller's
// cache identity.
func (s *Session) Prepare(ctx context.Context, sql string, paramOIDs []uint32) (*pgconn.StatementDescription, error) {
	return s.conn.Prepare(ctx, StatementName(sql), sql)
}

func (s *Session) Begin(ctx context.Context) (session.Tx, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (s *Session) SimpleQuery(ctx context.Context, sql string) error {
	return s.conn.PgConn().Exec(ctx, sql).Close()
}

func (s *Session) IsClosed() bool { return s.conn.IsClosed() }

func (s *Session) Close(ctx context.Context) error { return s.conn.Close(ctx) }

// Poll waits for the next notification. Delivery happens through the
// session's stream; Poll only drives the read.
func (s *Session) Poll(ctx context.Context) error {
	_, err := s.conn.WaitForNotification(ctx)
	return err
}

// CancelRequest asks the server to abort the running statement.
func (s *Session) CancelRequest(ctx context.Context) error {
	return s.conn.PgConn().CancelRequest(ctx)
}

// Tx adapts pgx.Tx to session.Tx.
type Tx struct {
	tx pgx.Tx
}

var _ session.Tx = (*Tx)(nil)

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.tx.Exec(ctx, sql, args...)
}

func (t *Tx) Prepare(ctx context.Context, sql string, paramOIDs []uint32) (*pgconn.StatementDescription, error) {
	return t.tx.Prepare(ctx, StatementName(sql), sql)
}

func (t *Tx) Begin(ctx context.Context) (session.Tx, error) {
	tx, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// StatementName returns a statement name that is stable for sql across
// sessions and program runs.
func StatementName(sql string) string {
	return "pgpool_" + strconv.FormatUint(xxhash.Sum64String(sql), 16)
}
