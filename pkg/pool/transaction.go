package pool

import (
	"context"

	"github.com/ajitpratap0/pgpool/pkg/errors"
	"github.com/ajitpratap0/pgpool/pkg/session"
)

// Transaction is a transaction or savepoint on a Client's session. It shares
// the Client's statement cache. A nested Transaction must be committed or
// rolled back before its parent is used again.
type Transaction struct {
	scope

	id       uint64
	tx       session.Tx
	canceler session.Canceler
}

// ID returns the id of the session the transaction runs on.
func (t *Transaction) ID() uint64 { return t.id }

// Begin opens a nested transaction backed by an anonymous savepoint.
func (t *Transaction) Begin(ctx context.Context) (*Transaction, error) {
	tx, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, errors.Protocol(err, "savepoint failed")
	}
	return t.nested(tx), nil
}

// Savepoint opens a nested transaction backed by the savepoint name.
func (t *Transaction) Savepoint(ctx context.Context, name string) (*Transaction, error) {
	tx, err := session.NamedSavepoint(ctx, t.tx, name)
	if err != nil {
		return nil, errors.Protocol(err, "savepoint failed")
	}
	return t.nested(tx), nil
}

// Commit commits the transaction, or releases its savepoint.
func (t *Transaction) Commit(ctx context.Context) error {
	return errors.Protocol(t.tx.Commit(ctx), "commit failed")
}

// Rollback aborts the transaction, or rolls back to its savepoint.
func (t *Transaction) Rollback(ctx context.Context) error {
	return errors.Protocol(t.tx.Rollback(ctx), "rollback failed")
}

// CancelRequest asks the server to abort the statement running on the session.
func (t *Transaction) CancelRequest(ctx context.Context) error {
	if t.canceler == nil {
		return errors.New(errors.ErrorTypeInternal, "session does not support cancellation")
	}
	return errors.Protocol(t.canceler.CancelRequest(ctx), "cancel request failed")
}

func (t *Transaction) nested(tx session.Tx) *Transaction {
	n := &Transaction{scope: t.scope, id: t.id, tx: tx, canceler: t.canceler}
	n.scope.q = tx
	return n
}
