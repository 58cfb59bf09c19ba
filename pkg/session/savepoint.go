package session

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrSavepointDone is returned when a finished savepoint is used again.
var ErrSavepointDone = errors.New("savepoint already released or rolled back")

// NamedSavepoint opens SAVEPOINT name inside parent. Commit releases it and
// Rollback rolls back to it; both end the scope. Queries run on the
// parent's connection.
func NamedSavepoint(ctx context.Context, parent Tx, name string) (Tx, error) {
	ident := pgx.Identifier{name}.Sanitize()
	if _, err := parent.Exec(ctx, "SAVEPOINT "+ident); err != nil {
		return nil, err
	}
	return &savepoint{parent: parent, ident: ident}, nil
}

type savepoint struct {
	parent Tx
	ident  string
	done   bool
}

func (s *savepoint) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.parent.Query(ctx, sql, args...)
}

func (s *savepoint) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.parent.QueryRow(ctx, sql, args...)
}

func (s *savepoint) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.parent.Exec(ctx, sql, args...)
}

func (s *savepoint) Prepare(ctx context.Context, sql string, paramOIDs []uint32) (*pgconn.StatementDescription, error) {
	return s.parent.Prepare(ctx, sql, paramOIDs)
}

func (s *savepoint) Begin(ctx context.Context) (Tx, error) {
	if s.done {
		return nil, ErrSavepointDone
	}
	return s.parent.Begin(ctx)
}

func (s *savepoint) Commit(ctx context.Context) error {
	if s.done {
		return ErrSavepointDone
	}
	s.done = true
	_, err := s.parent.Exec(ctx, "RELEASE SAVEPOINT "+s.ident)
	return err
}

func (s *savepoint) Rollback(ctx context.Context) error {
	if s.done {
		return ErrSavepointDone
	}
	s.done = true
	_, err := s.parent.Exec(ctx, "ROLLBACK TO SAVEPOINT "+s.ident)
	return err
}
