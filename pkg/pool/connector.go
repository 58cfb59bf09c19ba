package pool

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/pgpool/pkg/breaker"
	"github.com/ajitpratap0/pgpool/pkg/config"
	"github.com/ajitpratap0/pgpool/pkg/errors"
	"github.com/ajitpratap0/pgpool/pkg/metrics"
	"github.com/ajitpratap0/pgpool/pkg/session"
)

// Connector establishes new Clients for a pool.
type Connector interface {
	Connect(ctx context.Context, cfg *config.PoolConfig) (*Client, error)
}

// RetryConnector dials sessions behind a circuit breaker and retries failed
// attempts up to cfg.MaxRetries times. Attempts rejected by the open breaker
// are followed by a short sleep and do not count against the budget.
type RetryConnector struct {
	dialer        session.Dialer
	breaker       *breaker.CircuitBreaker
	rejectBackoff time.Duration
	logger        *zap.Logger
	sessionLogger *zap.Logger
	metrics       *metrics.PoolMetrics
}

var _ Connector = (*RetryConnector)(nil)

// NewRetryConnector creates a RetryConnector. A nil logger disables logging
// and nil metrics report to a private registry.
func NewRetryConnector(dialer session.Dialer, bc config.BreakerConfig, logger *zap.Logger, m *metrics.PoolMetrics) *RetryConnector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewPoolMetrics("default", nil)
	}
	rejectBackoff := bc.RejectBackoff
	if rejectBackoff <= 0 {
		rejectBackoff = time.Second
	}

	cb := breaker.New(breaker.Config{
		FailureThreshold: bc.FailureThreshold,
		SuccessThreshold: bc.SuccessThreshold,
		Timeout:          bc.Timeout,
		FailureRate:      bc.FailureRate,
		MinRequests:      bc.MinRequests,
	}, logger)
	cb.OnStateChange(func(_, to breaker.State) {
		m.BreakerState.Set(float64(to))
	})

	return &RetryConnector{
		dialer:        dialer,
		breaker:       cb,
		rejectBackoff: rejectBackoff,
		logger:        logger.With(zap.String("component", "connector")),
		sessionLogger: logger.With(zap.String("component", "session")),
		metrics:       m,
	}
}

// Breaker returns the circuit breaker guarding the dialer.
func (c *RetryConnector) Breaker() *breaker.CircuitBreaker { return c.breaker }

// Connect dials a session for cfg and starts forwarding its notifications.
func (c *RetryConnector) Connect(ctx context.Context, cfg *config.PoolConfig) (*Client, error) {
	database := cfg.Database()
	for attempt := 1; ; {
		if err := ctx.Err(); err != nil {
			return nil, contextError(err, "connect abandoned")
		}

		c.logger.Info("connecting to database",
			zap.String("database", database),
			zap.Bool("read_only", cfg.ReadOnly),
			zap.Int("attempt", attempt))

		var (
			sess   session.Session
			stream session.Stream
		)
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			sess, stream, err = c.dialer.Dial(ctx, cfg)
			return err
		})

		if err == nil {
			c.metrics.ConnectAttempts.WithLabelValues(metrics.ResultOK).Inc()
			c.metrics.SessionsCreated.Inc()
			return newClient(sess, stream, cfg, c.sessionLogger, c.metrics), nil
		}

		if stderrors.Is(err, breaker.ErrOpen) {
			c.metrics.ConnectAttempts.WithLabelValues(metrics.ResultRejected).Inc()
			c.logger.Warn("connection attempt rejected by circuit breaker",
				zap.String("database", database),
				zap.Duration("backoff", c.rejectBackoff))
			if err := sleep(ctx, c.rejectBackoff); err != nil {
				return nil, contextError(err, "connect abandoned")
			}
			continue
		}

		c.metrics.ConnectAttempts.WithLabelValues(metrics.ResultError).Inc()
		c.logger.Error("connection attempt failed",
			zap.String("database", database),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", cfg.MaxRetries),
			zap.Error(err))

		if attempt >= cfg.MaxRetries {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect").
				WithDetail("database", database).
				WithDetail("attempts", attempt)
		}
		attempt++
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// contextError converts a context error into the matching error kind.
func contextError(err error, message string) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, message)
	}
	return errors.Wrap(err, errors.ErrorTypeCanceled, message)
}
