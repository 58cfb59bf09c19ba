// Package sessiontest provides in-memory implementations of the session
// boundary for tests. Sessions record every statement they receive and answer
// queries from canned results.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ajitpratap0/pgpool/pkg/config"
	"github.com/ajitpratap0/pgpool/pkg/session"
)

// ErrClosed is returned by operations on a closed Session.
var ErrClosed = errors.New("sessiontest: session closed")

// Session is a fake session.Session. Its exported error fields make the
// matching operation fail; they must be set before the session is shared.
type Session struct {
	ID       int
	ReadOnly bool

	SimpleQueryErr error
	QueryErr       error
	ExecErr        error
	PrepareErr     error

	// PollFunc backs Poll. A nil PollFunc blocks until ctx is done.
	PollFunc func(ctx context.Context) error
	// OnSimpleQuery, when set, is called with every simple query after it
	// is recorded.
	OnSimpleQuery func(sql string)

	pipe *session.Pipe

	mu         sync.Mutex
	statements []string
	results    map[string][][]any
	prepared   map[string]*pgconn.StatementDescription
	txDepth    int

	closed   atomic.Bool
	prepares atomic.Int64
	cancels  atomic.Int64
}

var (
	_ session.Session  = (*Session)(nil)
	_ session.Poller   = (*Session)(nil)
	_ session.Canceler = (*Session)(nil)
)

// NewSession creates an open Session.
func NewSession(id int) *Session {
	return &Session{
		ID:       id,
		pipe:     session.NewPipe(),
		results:  make(map[string][][]any),
		prepared: make(map[string]*pgconn.StatementDescription),
	}
}

// Stream returns the session's asynchronous message stream.
func (s *Session) Stream() *session.Pipe { return s.pipe }

// SetResult makes queries for sql return rows.
func (s *Session) SetResult(sql string, rows ...[]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[sql] = rows
}

// Notify pushes a notification onto the session's stream.
func (s *Session) Notify(channel, payload string) {
	s.pipe.Push(session.NotificationMessage(&pgconn.Notification{
		PID:     uint32(s.ID),
		Channel: channel,
		Payload: payload,
	}))
}

// Notice pushes a notice onto the session's stream.
func (s *Session) Notice(message string) {
	s.pipe.Push(session.NoticeMessage(&pgconn.Notice{Severity: "NOTICE", Message: message}))
}

// Kill simulates a dropped connection: the session reports closed and its
// stream ends.
func (s *Session) Kill() {
	s.closed.Store(true)
	s.pipe.Close(nil)
}

// Statements returns a copy of every statement received, in order.
func (s *Session) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statements...)
}

// Prepares returns the number of Prepare calls that reached the session.
func (s *Session) Prepares() int { return int(s.prepares.Load()) }

// Cancels returns the number of CancelRequest calls.
func (s *Session) Cancels() int { return int(s.cancels.Load()) }

func (s *Session) record(sql string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	s.statements = append(s.statements, sql)
	s.mu.Unlock()
	return nil
}

// resolve maps a prepared statement name back to its SQL.
func (s *Session) resolve(sql string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sd, ok := s.prepared[sql]; ok {
		return sd.SQL
	}
	return sql
}

func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	sql = s.resolve(sql)
	if err := s.record(sql); err != nil {
		return nil, err
	}
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	s.mu.Lock()
	rows := s.results[sql]
	s.mu.Unlock()
	return NewRows(rows...), nil
}

func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	rows, err := s.Query(ctx, sql, args...)
	return &row{rows: rows, err: err}
}

func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	sql = s.resolve(sql)
	if err := s.record(sql); err != nil {
		return pgconn.CommandTag{}, err
	}
	if s.ExecErr != nil {
		return pgconn.CommandTag{}, s.ExecErr
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (s *Session) Prepare(ctx context.Context, sql string, paramOIDs []uint32) (*pgconn.StatementDescription, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.prepares.Add(1)
	if s.PrepareErr != nil {
		return nil, s.PrepareErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sd := &pgconn.StatementDescription{
		Name:      fmt.Sprintf("stmt_%d_%d", s.ID, len(s.prepared)+1),
		SQL:       sql,
		ParamOIDs: append([]uint32(nil), paramOIDs...),
	}
	s.prepared[sd.Name] = sd
	return sd, nil
}

func (s *Session) Begin(ctx context.Context) (session.Tx, error) {
	if err := s.record("BEGIN"); err != nil {
		return nil, err
	}
	return &Tx{s: s}, nil
}

func (s *Session) SimpleQuery(ctx context.Context, sql string) error {
	if err := s.record(sql); err != nil {
		return err
	}
	if s.OnSimpleQuery != nil {
		s.OnSimpleQuery(sql)
	}
	return s.SimpleQueryErr
}

func (s *Session) IsClosed() bool { return s.closed.Load() }

func (s *Session) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.pipe.Close(nil)
	return nil
}

// Poll implements session.Poller.
func (s *Session) Poll(ctx context.Context) error {
	if s.PollFunc != nil {
		return s.PollFunc(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

// CancelRequest implements session.Canceler.
func (s *Session) CancelRequest(ctx context.Context) error {
	s.cancels.Add(1)
	return nil
}

// Tx is a fake transaction. Nested transactions become savepoints sp_1,
// sp_2, ... like pgx.
type Tx struct {
	s     *Session
	depth int
	done  bool
}

func (tx *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return tx.s.Query(ctx, sql, args...)
}

func (tx *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return tx.s.QueryRow(ctx, sql, args...)
}

func (tx *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return tx.s.Exec(ctx, sql, args...)
}

func (tx *Tx) Prepare(ctx context.Context, sql string, paramOIDs []uint32) (*pgconn.StatementDescription, error) {
	return tx.s.Prepare(ctx, sql, paramOIDs)
}

func (tx *Tx) Begin(ctx context.Context) (session.Tx, error) {
	if tx.done {
		return nil, pgx.ErrTxClosed
	}
	tx.s.mu.Lock()
	tx.s.txDepth++
	depth := tx.s.txDepth
	tx.s.mu.Unlock()
	if err := tx.s.record(fmt.Sprintf("SAVEPOINT sp_%d", depth)); err != nil {
		return nil, err
	}
	return &Tx{s: tx.s, depth: depth}, nil
}

func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	if tx.depth == 0 {
		return tx.s.record("COMMIT")
	}
	return tx.s.record(fmt.Sprintf("RELEASE SAVEPOINT sp_%d", tx.depth))
}

func (tx *Tx) Rollback(ctx context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	if tx.depth == 0 {
		return tx.s.record("ROLLBACK")
	}
	return tx.s.record(fmt.Sprintf("ROLLBACK TO SAVEPOINT sp_%d", tx.depth))
}

// Dialer is a scripted session.Dialer. The first Failures dials fail with Err
// (or a generic connection error); later dials succeed with fresh sessions.
type Dialer struct {
	Failures int
	Err      error
	// Delay is waited, honouring ctx, before each dial.
	Delay time.Duration
	// Setup, when set, prepares each new session before it is returned.
	Setup func(*Session)

	attempts atomic.Int64
	mu       sync.Mutex
	sessions []*Session
}

var _ session.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context, cfg *config.PoolConfig) (session.Session, session.Stream, error) {
	n := int(d.attempts.Add(1))
	if d.Delay > 0 {
		select {
		case <-time.After(d.Delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if n <= d.Failures {
		if d.Err != nil {
			return nil, nil, d.Err
		}
		return nil, nil, fmt.Errorf("sessiontest: connection refused (attempt %d)", n)
	}

	d.mu.Lock()
	s := NewSession(len(d.sessions) + 1)
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	if cfg != nil {
		s.ReadOnly = cfg.ReadOnly
	}
	if d.Setup != nil {
		d.Setup(s)
	}
	return s, s.pipe, nil
}

// Attempts returns the number of Dial calls.
func (d *Dialer) Attempts() int { return int(d.attempts.Load()) }

// Sessions returns every session dialed so far.
func (d *Dialer) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.sessions...)
}
