// Package pool implements a bounded pool of database sessions.
//
// A Pool admits at most MaxConnections checkouts at once. Each checkout
// reuses an idle session after validating it with the configured recycling
// method, or dials a new one through a Connector that retries behind a
// circuit breaker:
//
//	p, err := pool.New(cfg, pool.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	obj, err := p.Get(ctx)
//	if err != nil {
//	    return err
//	}
//	defer obj.Release()
//
//	rows, err := obj.QueryCached(ctx, sqlutil.NewQuery("SELECT name FROM users WHERE id = $1", id))
//
// Released sessions go back to the idle queue only while the configuration
// they were created under is still current.
package pool

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgpool/pkg/config"
	"github.com/ajitpratap0/pgpool/pkg/errors"
	"github.com/ajitpratap0/pgpool/pkg/metrics"
	"github.com/ajitpratap0/pgpool/pkg/observability"
	"github.com/ajitpratap0/pgpool/pkg/session/pgxsession"
	"github.com/ajitpratap0/pgpool/pkg/stmtcache"
)

// Pool hands out sessions under a fixed number of slots.
type Pool struct {
	cfg       atomic.Pointer[config.PoolConfig]
	slots     *slots
	connector Connector
	caches    *stmtcache.Registry
	logger    *zap.Logger
	metrics   *metrics.PoolMetrics
	tracer    *observability.Tracer

	// idleMu guards idle and orders requeues against config replacement
	idleMu sync.Mutex
	idle   []*Client

	created         atomic.Int64
	reused          atomic.Int64
	discarded       atomic.Int64
	recycleFailures atomic.Int64

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Status is a point-in-time view of a pool.
type Status struct {
	Name string `json:"name"`
	// MaxConnections is the slot capacity fixed at construction
	MaxConnections int `json:"max_connections"`
	// ConfiguredMaxConnections is the value of the current configuration
	ConfiguredMaxConnections int   `json:"configured_max_connections"`
	Idle                     int   `json:"idle"`
	InUse                    int64 `json:"in_use"`
	Available                int64 `json:"available"`
	TotalCreated             int64 `json:"total_created"`
	TotalReused              int64 `json:"total_reused"`
	TotalDiscarded           int64 `json:"total_discarded"`
	RecycleFailures          int64 `json:"recycle_failures"`
	StatementCaches          int   `json:"statement_caches"`
	Closed                   bool  `json:"closed"`
}

// New creates a pool for cfg. No session is established until the first
// checkout. The pool keeps its own copy of cfg.
func New(cfg *config.PoolConfig, opts ...Option) (*Pool, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "configuration is required")
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid pool configuration")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = metrics.NewPoolMetrics(cfg.Name, o.registerer)
	}
	logger := o.logger.With(zap.String("pool", cfg.Name))
	if o.connector == nil {
		dialer := o.dialer
		if dialer == nil {
			dialer = pgxsession.NewDialer(logger)
		}
		o.connector = NewRetryConnector(dialer, cfg.Breaker, logger, o.metrics)
	}

	p := &Pool{
		slots:     newSlots(cfg.MaxConnections),
		connector: o.connector,
		caches:    stmtcache.NewRegistry(),
		logger:    logger.With(zap.String("component", "pool")),
		metrics:   o.metrics,
		tracer:    observability.NewTracer(o.tracerProvider, cfg.Name),
		stopCh:    make(chan struct{}),
	}
	p.cfg.Store(cfg)

	p.wg.Add(1)
	go p.cleanupLoop(cfg.CleanupInterval)

	p.logger.Info("pool created",
		zap.String("database", cfg.Database()),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.String("recycling_method", string(cfg.RecyclingMethod)),
		zap.Bool("read_only", cfg.ReadOnly))
	return p, nil
}

// Config returns the current configuration snapshot. It must not be modified.
func (p *Pool) Config() *config.PoolConfig {
	return p.cfg.Load()
}

// Get checks out a session using the configured timeouts.
func (p *Pool) Get(ctx context.Context) (*Object, error) {
	return p.TimeoutGet(ctx, p.cfg.Load().Timeouts)
}

// TryGet checks out a session without waiting for a slot. It fails with a
// timeout error when every slot is taken.
func (p *Pool) TryGet(ctx context.Context) (*Object, error) {
	return p.TimeoutGet(ctx, p.cfg.Load().Timeouts.WithWait(0))
}

// TimeoutGet checks out a session using timeouts instead of the configured
// ones. An idle session that fails recycling is discarded and the next one
// is tried with the same slot; when none is left a new session is created.
func (p *Pool) TimeoutGet(ctx context.Context, timeouts config.Timeouts) (obj *Object, err error) {
	ctx, span := p.tracer.Start(ctx, observability.SpanCheckout)
	defer func() { observability.End(span, err) }()

	o := newObject(p)
	defer func() {
		if err != nil {
			o.Release()
			p.metrics.Checkouts.WithLabelValues(checkoutResult(err)).Inc()
		}
	}()

	timer := metrics.NewTimer()
	if err := p.slots.acquire(ctx, timeouts.Wait); err != nil {
		return nil, err
	}
	o.co.set(StateReceiving, nil)
	span.SetAttributes(attribute.Int64("pool.wait_us", timer.ObserveTo(p.metrics.CheckoutWait).Microseconds()))
	p.metrics.InUse.Set(float64(p.slots.held()))

	for {
		if client := p.popIdle(); client != nil {
			o.co.set(StateRecycling, client)
			if err := p.recycle(ctx, client, timeouts.Recycle); err != nil {
				p.recycleFailures.Add(1)
				p.metrics.Recycles.WithLabelValues(metrics.ResultError).Inc()
				if client.IsClosed() {
					p.logger.Info("discarding closed session", zap.Uint64("session_id", client.ID()))
				} else {
					p.logger.Warn("failed to recycle session",
						zap.Uint64("session_id", client.ID()), zap.Error(err))
				}
				o.co.set(StateReceiving, nil)
				p.discard(client)
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, contextError(ctxErr, "checkout abandoned")
				}
				continue
			}
			p.metrics.Recycles.WithLabelValues(metrics.ResultOK).Inc()
			if p.outdated(client) {
				o.co.set(StateReceiving, nil)
				p.discard(client)
				continue
			}
			p.reused.Add(1)
			o.ready(client)
			break
		}

		o.co.set(StateCreating, nil)
		client, err := p.create(ctx, timeouts.Create)
		if err != nil {
			return nil, err
		}
		if p.outdated(client) {
			o.co.set(StateReceiving, nil)
			p.discard(client)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, contextError(ctxErr, "checkout abandoned")
			}
			continue
		}
		o.ready(client)
		break
	}

	p.metrics.Checkouts.WithLabelValues(metrics.ResultOK).Inc()
	span.SetAttributes(attribute.Int64("db.session_id", int64(o.ID())))
	return o, nil
}

// Take detaches obj's Client from the pool. Its slot is returned at once,
// its statement cache is no longer cleared by the pool, and the caller
// becomes responsible for closing it. It returns nil if obj is not ready.
func (p *Pool) Take(obj *Object) *Client {
	client := obj.take()
	if client != nil {
		p.caches.Detach(client.cache)
	}
	obj.Release()
	return client
}

// ReplaceConfig installs a new configuration snapshot when it differs from
// the current one. Idle sessions are closed, sessions checked out under the
// old snapshot are closed on release, and every statement cache is cleared.
// The slot capacity, the circuit breaker and the cleanup interval are fixed
// at construction; changes to MaxConnections, Breaker or CleanupInterval
// only take effect in a new pool and are logged.
func (p *Pool) ReplaceConfig(cfg *config.PoolConfig) error {
	if cfg == nil {
		return errors.New(errors.ErrorTypeConfig, "configuration is required")
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid pool configuration")
	}

	p.idleMu.Lock()
	old := p.cfg.Load()
	if old.Equal(cfg) {
		p.idleMu.Unlock()
		return nil
	}
	p.cfg.Store(cfg)
	stale := p.idle
	p.idle = nil
	p.idleMu.Unlock()

	for _, c := range stale {
		p.discard(c)
	}
	cleared := p.caches.Clear()
	p.metrics.IdleSessions.Set(0)

	if cfg.MaxConnections != old.MaxConnections {
		p.logger.Warn("max_connections changed but slot capacity is fixed",
			zap.Int("capacity", int(p.slots.size)),
			zap.Int("configured", cfg.MaxConnections))
	}
	if cfg.Breaker != old.Breaker || cfg.CleanupInterval != old.CleanupInterval {
		p.logger.Warn("breaker and cleanup_interval changes only take effect in a new pool",
			zap.Duration("cleanup_interval", old.CleanupInterval),
			zap.Int("failure_threshold", old.Breaker.FailureThreshold))
	}
	p.logger.Info("configuration replaced",
		zap.Int("idle_closed", len(stale)),
		zap.Int("caches_cleared", cleared))
	return nil
}

// ClearStatementCaches empties the statement cache of every session of the
// pool, idle or checked out, and returns how many caches were cleared.
func (p *Pool) ClearStatementCaches() int {
	return p.caches.Clear()
}

// Close fails pending and future checkouts and closes idle sessions.
// Sessions still checked out are closed when released.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.slots.close()
		close(p.stopCh)

		p.idleMu.Lock()
		stale := p.idle
		p.idle = nil
		p.idleMu.Unlock()

		for _, c := range stale {
			p.discard(c)
		}
		p.metrics.IdleSessions.Set(0)
		p.wg.Wait()
		p.logger.Info("pool closed", zap.Int("idle_closed", len(stale)))
	})
}

// IsClosed reports whether Close was called.
func (p *Pool) IsClosed() bool {
	return p.slots.isClosed()
}

// Status reports current pool statistics.
func (p *Pool) Status() Status {
	cfg := p.cfg.Load()
	p.idleMu.Lock()
	idle := len(p.idle)
	p.idleMu.Unlock()

	inUse := p.slots.held()
	return Status{
		Name:                     cfg.Name,
		MaxConnections:           int(p.slots.size),
		ConfiguredMaxConnections: cfg.MaxConnections,
		Idle:                     idle,
		InUse:                    inUse,
		Available:                p.slots.size - inUse,
		TotalCreated:             p.created.Load(),
		TotalReused:              p.reused.Load(),
		TotalDiscarded:           p.discarded.Load(),
		RecycleFailures:          p.recycleFailures.Load(),
		StatementCaches:          p.caches.Len(),
		Closed:                   p.slots.isClosed(),
	}
}

func (p *Pool) popIdle() *Client {
	p.idleMu.Lock()
	defer p.idleMu.Unlock()
	if len(p.idle) == 0 {
		return nil
	}
	c := p.idle[0]
	p.idle[0] = nil
	p.idle = p.idle[1:]
	p.metrics.IdleSessions.Set(float64(len(p.idle)))
	return c
}

// requeue returns c to the back of the idle queue if it was created under
// the current configuration snapshot and is still usable.
func (p *Pool) requeue(c *Client) {
	p.idleMu.Lock()
	if p.slots.isClosed() || c.cfg != p.cfg.Load() || c.detached.Load() || c.IsClosed() {
		p.idleMu.Unlock()
		p.discard(c)
		return
	}
	p.idle = append(p.idle, c)
	p.metrics.IdleSessions.Set(float64(len(p.idle)))
	p.idleMu.Unlock()
}

// outdated reports whether c was created under a snapshot that has since
// been replaced. Such a session is never handed out.
func (p *Pool) outdated(c *Client) bool {
	if c.cfg == p.cfg.Load() {
		return false
	}
	p.logger.Debug("discarding session from replaced configuration",
		zap.Uint64("session_id", c.ID()))
	return true
}

// discard drops c from the pool. The session is closed unless its caller
// took it over with TakeConnection.
func (p *Pool) discard(c *Client) {
	p.caches.Detach(c.cache)
	p.discarded.Add(1)
	p.metrics.Discards.Inc()
	if c.taken.Load() {
		return
	}
	closeClient(c)
}

func (p *Pool) recycle(ctx context.Context, c *Client, timeout *time.Duration) error {
	if c.IsClosed() {
		return errors.New(errors.ErrorTypeRecycling, "session is closed")
	}
	query, ok := p.cfg.Load().RecyclingMethod.Query()
	if !ok {
		return nil
	}

	ctx, span := p.tracer.Start(ctx, observability.SpanRecycle,
		attribute.Int64("db.session_id", int64(c.ID())))
	var err error
	defer func() { observability.End(span, err) }()

	if timeout != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}
	if err = c.session.SimpleQuery(ctx, query); err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			err = errors.Wrap(err, errors.ErrorTypeTimeout, "recycling timed out")
		} else {
			err = errors.Wrap(err, errors.ErrorTypeRecycling, "recycling query failed")
		}
		return err
	}
	return nil
}

func (p *Pool) create(ctx context.Context, timeout *time.Duration) (client *Client, err error) {
	ctx, span := p.tracer.Start(ctx, observability.SpanConnect)
	defer func() { observability.End(span, err) }()

	if timeout != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	client, err = p.connector.Connect(ctx, p.cfg.Load())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.IsConnect(err) {
			return nil, contextError(ctxErr, "session creation abandoned")
		}
		return nil, err
	}

	p.caches.Attach(client.cache)
	p.created.Add(1)
	return client, nil
}

func (p *Pool) cleanupLoop(interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := p.caches.Cleanup(); n > 0 {
				p.logger.Debug("pruned statement cache registry", zap.Int("dropped", n))
			}
		case <-p.stopCh:
			return
		}
	}
}

func checkoutResult(err error) string {
	switch {
	case errors.IsTimeout(err):
		return metrics.ResultTimeout
	case errors.IsClosed(err):
		return metrics.ResultClosed
	default:
		return metrics.ResultError
	}
}
