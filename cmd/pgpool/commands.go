package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/pgpool/pkg/errors"
	"github.com/ajitpratap0/pgpool/pkg/logger"
	"github.com/ajitpratap0/pgpool/pkg/pool"
	"github.com/ajitpratap0/pgpool/pkg/sqlutil"
)

// checkResult is printed by the check command.
type checkResult struct {
	Checkouts int           `json:"checkouts"`
	Failures  int           `json:"failures"`
	Duration  time.Duration `json:"duration_ns"`
	Status    pool.Status   `json:"status"`
}

func newCheckCmd(v *viper.Viper) *cobra.Command {
	var workers, rounds int
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check out sessions concurrently and report pool status",
		Long: `Runs workers concurrent loops that each check out a session, run a
cached SELECT and release it, then prints the pool status as JSON.

Example:
  pgpool check --dsn postgres://localhost/app --workers 8 --rounds 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cleanup, err := openPool(v)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signalContext()
			defer cancel()

			res, err := runCheck(ctx, p, workers, rounds)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 4, "Number of concurrent workers")
	cmd.Flags().IntVar(&rounds, "rounds", 10, "Checkouts per worker")
	return cmd
}

func runCheck(ctx context.Context, p *pool.Pool, workers, rounds int) (*checkResult, error) {
	log := logger.Get().With(zap.String("component", "check"))

	start := time.Now()
	results := make([]int, workers)
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < rounds; i++ {
				obj, err := p.Get(ctx)
				if err != nil {
					if errors.IsClosed(err) || ctx.Err() != nil {
						return err
					}
					log.Warn("checkout failed", zap.Int("worker", w), zap.Error(err))
					results[w]++
					continue
				}
				var n int
				err = obj.QueryRowCached(ctx, sqlutil.NewQuery("SELECT $1::int", i)).Scan(&n)
				obj.Release()
				if err != nil {
					log.Warn("query failed", zap.Int("worker", w), zap.Error(err))
					results[w]++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &checkResult{
		Checkouts: workers * rounds,
		Duration:  time.Since(start),
		Status:    p.Status(),
	}
	for _, f := range results {
		res.Failures += f
	}
	return res, nil
}

func newExecCmd(v *viper.Viper) *cobra.Command {
	var inTx bool
	cmd := &cobra.Command{
		Use:   "exec FILE",
		Short: "Run a SQL script statement by statement",
		Long: `Splits FILE on top-level semicolons, honouring -- comments and $$
bodies, and runs each statement on one pooled session. Use - for stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readScript(args[0])
			if err != nil {
				return err
			}

			p, cleanup, err := openPool(v)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signalContext()
			defer cancel()

			n, err := runScript(ctx, p, script, inTx)
			if err != nil {
				return fmt.Errorf("statement %d: %w", n+1, err)
			}
			return printJSON(map[string]int{"statements": n})
		},
	}
	cmd.Flags().BoolVar(&inTx, "tx", false, "Run the whole script in one transaction")
	return cmd
}

func readScript(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

// runScript executes each statement of script and returns how many
// succeeded.
func runScript(ctx context.Context, p *pool.Pool, script string, inTx bool) (int, error) {
	obj, err := p.Get(ctx)
	if err != nil {
		return 0, err
	}
	defer obj.Release()

	exec := func(ctx context.Context, sql string) error {
		return obj.SimpleQuery(ctx, sql)
	}
	var tx *pool.Transaction
	if inTx {
		if tx, err = obj.Begin(ctx); err != nil {
			return 0, err
		}
		exec = func(ctx context.Context, sql string) error {
			_, err := tx.Exec(ctx, sql)
			return err
		}
	}

	n := 0
	it := sqlutil.NewIterator(script)
	for stmt, ok := it.Next(); ok; stmt, ok = it.Next() {
		if err := exec(ctx, stmt); err != nil {
			if tx != nil {
				_ = tx.Rollback(ctx)
			}
			return n, err
		}
		n++
	}
	if tx != nil {
		if err := tx.Commit(ctx); err != nil {
			return n, err
		}
	}
	return n, nil
}

// notificationEvent is printed for every received notification.
type notificationEvent struct {
	Channel  string    `json:"channel"`
	Payload  string    `json:"payload"`
	PID      uint32    `json:"pid"`
	Received time.Time `json:"received"`
}

func newListenCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "listen CHANNEL...",
		Short: "Print notifications from channels as JSON lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cleanup, err := openPool(v)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signalContext()
			defer cancel()
			return listen(ctx, p, args)
		},
	}
}

func listen(ctx context.Context, p *pool.Pool, channels []string) error {
	obj, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer obj.Release()

	for _, ch := range channels {
		if err := obj.SimpleQuery(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return err
		}
	}
	logger.Get().Info("listening", zap.Strings("channels", channels))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			if err := obj.PollNotifications(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	})
	g.Go(func() error {
		enc := json.NewEncoder(os.Stdout)
		for {
			n, err := obj.RecvNotification(ctx)
			if err != nil {
				if err == io.EOF {
					return errors.New(errors.ErrorTypeConnection, "session closed while listening")
				}
				return nil
			}
			if err := enc.Encode(notificationEvent{
				Channel:  n.Channel,
				Payload:  n.Payload,
				PID:      n.PID,
				Received: time.Now().UTC(),
			}); err != nil {
				return err
			}
		}
	})
	return g.Wait()
}
