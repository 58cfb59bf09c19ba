package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgpool/pkg/config"
	"github.com/ajitpratap0/pgpool/pkg/logger"
	"github.com/ajitpratap0/pgpool/pkg/observability"
	"github.com/ajitpratap0/pgpool/pkg/pool"
)

var version = "0.1.0"

// newViper returns a viper instance reading PGPOOL_* environment variables,
// with dashes in flag names mapped to underscores.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PGPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func main() {
	v := newViper()

	root := &cobra.Command{
		Use:   "pgpool",
		Short: "pgpool - PostgreSQL session pool toolkit",
		Long: `pgpool exercises a client-side PostgreSQL session pool.
Every flag can also be set through a PGPOOL_ environment variable,
e.g. PGPOOL_DSN or PGPOOL_MAX_CONNECTIONS.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{
				Level:       v.GetString("log-level"),
				Encoding:    "console",
				OutputPaths: []string{"stderr"},
			})
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to a YAML pool configuration")
	flags.String("dsn", "", "PostgreSQL connection string (overrides the configuration file)")
	flags.Int("max-connections", 0, "Number of pool slots (0 keeps the configured value)")
	flags.String("recycling", "", "Recycling method: fast, verified or clean")
	flags.Bool("read-only", false, "Refuse write statements")
	flags.Duration("wait-timeout", 0, "Maximum wait for a free slot (0 waits forever)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9187")
	flags.Bool("trace", false, "Export checkout traces to stderr")
	_ = v.BindPFlags(flags)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pgpool v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newCheckCmd(v), newExecCmd(v), newListenCmd(v))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadPoolConfig builds the pool configuration from the optional file,
// then applies explicitly set flags and environment variables.
func loadPoolConfig(v *viper.Viper) (*config.PoolConfig, error) {
	var cfg *config.PoolConfig
	if path := v.GetString("config"); path != "" {
		loaded, err := config.LoadPoolConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.NewPoolConfig("")
		cfg.Name = "pgpool"
	}

	if dsn := v.GetString("dsn"); dsn != "" {
		cfg.ConnString = dsn
	}
	if n := v.GetInt("max-connections"); n > 0 {
		cfg.MaxConnections = n
	}
	if m := v.GetString("recycling"); m != "" {
		method, err := config.ParseRecyclingMethod(m)
		if err != nil {
			return nil, err
		}
		cfg.RecyclingMethod = method
	}
	if v.GetBool("read-only") {
		cfg.ReadOnly = true
	}
	if d := v.GetDuration("wait-timeout"); d > 0 {
		cfg.Timeouts = cfg.Timeouts.WithWait(d)
	}

	if cfg.ConnString == "" {
		return nil, fmt.Errorf("no connection string: set --dsn, PGPOOL_DSN or conn_string in --config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openPool creates the pool along with the metrics endpoint and trace
// exporter requested on the command line. The returned function releases
// all of them.
func openPool(v *viper.Viper) (*pool.Pool, func(), error) {
	cfg, err := loadPoolConfig(v)
	if err != nil {
		return nil, nil, err
	}

	log := logger.Get().With(zap.String("component", "pgpool-cli"))
	opts := []pool.Option{pool.WithLogger(logger.Get())}
	var closers []func()

	if addr := v.GetString("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, pool.WithRegisterer(reg))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", addr))
		closers = append(closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	if v.GetBool("trace") {
		tc := observability.DefaultTracingConfig()
		tc.ServiceVersion = version
		tc.Writer = os.Stderr
		tp, err := observability.InitTracing(tc)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, pool.WithTracerProvider(tp))
		closers = append(closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Warn("failed to flush traces", zap.Error(err))
			}
		})
	}

	p, err := pool.New(cfg, opts...)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, nil, err
	}

	cleanup := func() {
		p.Close()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		_ = logger.Sync()
	}
	return p, cleanup, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
