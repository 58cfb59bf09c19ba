package pool

import (
	"context"
	stderrors "errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgpool/pkg/metrics"
	"github.com/ajitpratap0/pgpool/pkg/session"
)

var connectionIDs atomic.Uint64

func nextConnectionID() uint64 {
	return connectionIDs.Add(1)
}

// Connection guards a session's asynchronous message stream. While the
// forwarder runs it owns the stream; release hands it back.
type Connection struct {
	id       uint64
	readOnly bool
	database string
	stream   session.Stream
	logger   *zap.Logger
	metrics  *metrics.PoolMetrics

	// streamLock is held (full) by whoever reads the stream.
	streamLock chan struct{}
	// release holds at most one pending release request.
	release chan struct{}
	done    chan struct{}
}

func newConnection(id uint64, readOnly bool, database string, stream session.Stream,
	logger *zap.Logger, m *metrics.PoolMetrics) *Connection {
	return &Connection{
		id:         id,
		readOnly:   readOnly,
		database:   database,
		stream:     stream,
		logger:     logger.With(zap.Uint64("session_id", id), zap.String("database", database), zap.Bool("read_only", readOnly)),
		metrics:    m,
		streamLock: make(chan struct{}, 1),
		release:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// ID returns the process-unique session id.
func (c *Connection) ID() uint64 { return c.id }

// Done is closed once the forwarder has exited.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Release asks the forwarder to stop. A request made while the forwarder is
// busy is kept until it next checks.
func (c *Connection) Release() {
	select {
	case c.release <- struct{}{}:
	default:
	}
}

// start launches the forwarder. Notifications go to out, which is closed
// when the forwarder exits. Closing gone tells the forwarder nobody will
// ever receive again.
func (c *Connection) start(out chan<- *pgconn.Notification, gone <-chan struct{}, sendTimeout time.Duration) {
	c.streamLock <- struct{}{}
	go c.forward(out, gone, sendTimeout)
}

func (c *Connection) forward(out chan<- *pgconn.Notification, gone <-chan struct{}, sendTimeout time.Duration) {
	defer close(c.done)
	defer close(out)
	defer func() { <-c.streamLock }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.release:
			cancel()
		case <-ctx.Done():
		}
	}()

	released := false
loop:
	for {
		// release wins over a message that is ready at the same time
		if ctx.Err() != nil {
			released = true
			break
		}

		msg, err := c.stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				released = true
			} else if !stderrors.Is(err, io.EOF) {
				c.logger.Error("error reading from session stream", zap.Error(err))
			}
			break
		}

		switch msg.Kind {
		case session.KindNotification:
			if !c.send(out, gone, msg.Notification, sendTimeout) {
				break loop
			}
		case session.KindNotice:
			c.metrics.Notifications.WithLabelValues(metrics.ResultNotice).Inc()
			c.logger.Info("database notice",
				zap.String("severity", msg.Notice.Severity),
				zap.String("code", msg.Notice.Code),
				zap.String("message", msg.Notice.Message))
		}
	}

	if released {
		c.logger.Info("released session stream")
	} else {
		c.logger.Info("disconnected from database")
	}
}

// send forwards n and reports whether forwarding should continue.
func (c *Connection) send(out chan<- *pgconn.Notification, gone <-chan struct{}, n *pgconn.Notification, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out <- n:
		c.metrics.Notifications.WithLabelValues(metrics.ResultOK).Inc()
		return true
	case <-gone:
		c.metrics.Notifications.WithLabelValues(metrics.ResultDropped).Inc()
		c.logger.Warn("notification receiver closed, stopping forwarder",
			zap.String("channel", n.Channel))
		return false
	case <-timer.C:
		c.metrics.Notifications.WithLabelValues(metrics.ResultTimeout).Inc()
		c.logger.Error("timed out forwarding notification",
			zap.String("channel", n.Channel),
			zap.Uint32("pid", n.PID),
			zap.Duration("timeout", timeout))
		return true
	}
}

// take stops the forwarder and returns the stream to the caller, who keeps
// the lock for good.
func (c *Connection) take(ctx context.Context) (session.Stream, error) {
	c.Release()
	select {
	case c.streamLock <- struct{}{}:
		return c.stream, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
