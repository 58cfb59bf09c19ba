package pool

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgpool/pkg/config"
	"github.com/ajitpratap0/pgpool/pkg/errors"
	"github.com/ajitpratap0/pgpool/pkg/metrics"
	"github.com/ajitpratap0/pgpool/pkg/session"
	"github.com/ajitpratap0/pgpool/pkg/stmtcache"
)

// Client is a connected session with its own statement cache and
// notification channel. A Client is used by one goroutine at a time.
type Client struct {
	scope

	session session.Session
	conn    *Connection
	cfg     *config.PoolConfig

	notifications chan *pgconn.Notification
	gone          chan struct{}
	goneOnce      sync.Once
	detached      atomic.Bool

	// taken is set once the caller owns the session
	taken atomic.Bool
}

// newClient wraps an established session and starts forwarding its
// asynchronous messages.
func newClient(sess session.Session, stream session.Stream, cfg *config.PoolConfig,
	logger *zap.Logger, m *metrics.PoolMetrics) *Client {
	id := nextConnectionID()
	conn := newConnection(id, cfg.ReadOnly, cfg.Database(), stream, logger, m)
	c := &Client{
		scope: scope{
			q:        sess,
			cache:    stmtcache.New(),
			readOnly: cfg.ReadOnly,
			logger:   conn.logger,
			metrics:  m,
		},
		session:       sess,
		conn:          conn,
		cfg:           cfg,
		notifications: make(chan *pgconn.Notification, cfg.ChannelSize),
		gone:          make(chan struct{}),
	}
	conn.start(c.notifications, c.gone, cfg.NotifySendTimeout)
	return c
}

// ID returns the process-unique session id.
func (c *Client) ID() uint64 { return c.conn.id }

// Config returns the configuration snapshot the session was created under.
func (c *Client) Config() *config.PoolConfig { return c.cfg }

// Session returns the underlying session.
func (c *Client) Session() session.Session { return c.session }

// IsClosed reports whether the session has ended.
func (c *Client) IsClosed() bool { return c.session.IsClosed() }

// Begin starts a transaction.
func (c *Client) Begin(ctx context.Context) (*Transaction, error) {
	tx, err := c.session.Begin(ctx)
	if err != nil {
		return nil, errors.Protocol(err, "begin failed")
	}
	return c.newTransaction(tx), nil
}

// SimpleQuery runs sql over the simple query protocol.
func (c *Client) SimpleQuery(ctx context.Context, sql string) error {
	if err := c.checkReadOnly(sql); err != nil {
		return err
	}
	return errors.Protocol(c.session.SimpleQuery(ctx, sql), "simple query failed")
}

// Notifications returns the channel notifications are forwarded to. It is
// closed when forwarding ends.
func (c *Client) Notifications() <-chan *pgconn.Notification { return c.notifications }

// RecvNotification returns the next forwarded notification, or io.EOF once
// forwarding has ended and the channel is drained.
func (c *Client) RecvNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n, ok := <-c.notifications:
		if !ok {
			return nil, io.EOF
		}
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PollNotifications drives the session to read pending asynchronous
// messages when it only reads while a request is in flight. It returns nil
// immediately for sessions that read continuously.
func (c *Client) PollNotifications(ctx context.Context) error {
	p, ok := c.session.(session.Poller)
	if !ok {
		return nil
	}
	return p.Poll(ctx)
}

// CancelRequest asks the server to abort the statement running on the session.
func (c *Client) CancelRequest(ctx context.Context) error {
	cn, ok := c.session.(session.Canceler)
	if !ok {
		return errors.New(errors.ErrorTypeInternal, "session does not support cancellation")
	}
	return errors.Protocol(cn.CancelRequest(ctx), "cancel request failed")
}

// TakeConnection stops notification forwarding and hands the session and its
// stream to the caller for out-of-band use. The caller becomes responsible
// for closing the session. The Client must not be used afterwards and is
// never reused by a pool.
func (c *Client) TakeConnection(ctx context.Context) (session.Session, session.Stream, error) {
	c.detached.Store(true)
	stream, err := c.conn.take(ctx)
	if err != nil {
		return nil, nil, err
	}
	c.taken.Store(true)
	return c.session, stream, nil
}

// Close ends the session. Pending notifications are dropped.
func (c *Client) Close(ctx context.Context) error {
	c.goneOnce.Do(func() { close(c.gone) })
	return c.session.Close(ctx)
}

func (c *Client) newTransaction(tx session.Tx) *Transaction {
	t := &Transaction{
		scope: c.scope,
		id:    c.conn.id,
		tx:    tx,
	}
	t.scope.q = tx
	if cn, ok := c.session.(session.Canceler); ok {
		t.canceler = cn
	}
	return t
}
