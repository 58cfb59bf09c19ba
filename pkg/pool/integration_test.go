package pool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/pgpool/pkg/config"
	"github.com/ajitpratap0/pgpool/pkg/errors"
	"github.com/ajitpratap0/pgpool/pkg/pool"
	"github.com/ajitpratap0/pgpool/pkg/session/sessiontest"
	"github.com/ajitpratap0/pgpool/pkg/sqlutil"
	"github.com/ajitpratap0/pgpool/pkg/testutil"
)

type PoolIntegrationSuite struct {
	testutil.IntegrationSuite
	pool *pool.Pool
}

func TestPoolIntegration(t *testing.T) {
	suite.Run(t, new(PoolIntegrationSuite))
}

func (s *PoolIntegrationSuite) SetupTest() {
	p, err := pool.New(s.PoolConfig(), pool.WithLogger(s.Logger()))
	s.Require().NoError(err)
	s.pool = p
}

func (s *PoolIntegrationSuite) TearDownTest() {
	s.pool.Close()
}

func (s *PoolIntegrationSuite) TestRoundTrip() {
	obj, err := s.pool.Get(s.Context())
	s.Require().NoError(err)
	defer obj.Release()

	var n int
	s.Require().NoError(obj.QueryRowCached(s.Context(), sqlutil.NewQuery("SELECT $1::int + 1", 41)).Scan(&n))
	s.Equal(42, n)
	s.Equal(1, obj.StatementCache().Len())
}

func (s *PoolIntegrationSuite) TestTransactionRollback() {
	table := s.TableName("pgpool_tx")
	obj, err := s.pool.Get(s.Context())
	s.Require().NoError(err)
	defer obj.Release()
	ctx := s.Context()

	_, err = obj.Exec(ctx, "CREATE TEMP TABLE "+table+" (id int)")
	s.Require().NoError(err)

	tx, err := obj.Begin(ctx)
	s.Require().NoError(err)
	_, err = tx.Exec(ctx, "INSERT INTO "+table+" VALUES (1)")
	s.Require().NoError(err)
	sp, err := tx.Savepoint(ctx, "second row")
	s.Require().NoError(err)
	_, err = sp.Exec(ctx, "INSERT INTO "+table+" VALUES (2)")
	s.Require().NoError(err)
	s.Require().NoError(sp.Rollback(ctx))
	s.Require().NoError(tx.Commit(ctx))

	var count int
	s.Require().NoError(obj.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&count))
	s.Equal(1, count)
}

func (s *PoolIntegrationSuite) TestListenNotify() {
	ctx := s.Context()
	listener, err := s.pool.Get(ctx)
	s.Require().NoError(err)
	defer listener.Release()
	s.Require().NoError(listener.SimpleQuery(ctx, "LISTEN pgpool_events"))

	sender, err := s.pool.Get(ctx)
	s.Require().NoError(err)
	_, err = sender.Exec(ctx, "SELECT pg_notify('pgpool_events', 'hello')")
	s.Require().NoError(err)
	sender.Release()

	pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(listener.PollNotifications(pollCtx))
	n, err := listener.RecvNotification(pollCtx)
	s.Require().NoError(err)
	s.Equal("hello", n.Payload)
}

func (s *PoolIntegrationSuite) TestReadOnlyPool() {
	cfg := s.PoolConfig()
	cfg.ReadOnly = true
	p, err := pool.New(cfg, pool.WithLogger(s.Logger()))
	s.Require().NoError(err)
	defer p.Close()

	obj, err := p.Get(s.Context())
	s.Require().NoError(err)
	defer obj.Release()

	err = obj.SimpleQuery(s.Context(), "CREATE TEMP TABLE t (id int)")
	s.True(errors.IsType(err, errors.ErrorTypeReadOnly))

	var ro string
	s.Require().NoError(obj.QueryRow(s.Context(), "SHOW default_transaction_read_only").Scan(&ro))
	s.Equal("on", ro)
}

func TestCheckoutThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping benchmark in short mode")
	}
	cfg := testutil.TestPoolConfig("")
	cfg.MaxConnections = 4
	cfg.Timeouts = config.NoTimeouts()
	p, err := pool.New(cfg,
		pool.WithLogger(testutil.TestLogger(t)),
		pool.WithDialer(&sessiontest.Dialer{}))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	testutil.NewCheckoutBenchmark(t, "fake sessions").
		WithLatencyTarget(10 * time.Millisecond).
		Run(func() (int64, time.Duration) {
			ctx, cancel := testutil.TestContext(t)
			defer cancel()

			var n atomic.Int64
			start := time.Now()
			g, ctx := errgroup.WithContext(ctx)
			for i := 0; i < 8; i++ {
				g.Go(func() error {
					for j := 0; j < 500; j++ {
						obj, err := p.Get(ctx)
						if err != nil {
							return err
						}
						obj.Release()
						n.Add(1)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
			return n.Load(), time.Since(start)
		})
}
