// Package pgpool provides a client-side PostgreSQL session pool with a
// per-session prepared statement cache and asynchronous notification
// forwarding.
//
// A pool holds a fixed number of slots. Every checkout takes a slot, reuses
// an idle session after recycling it or establishes a new one behind a
// circuit breaker, and returns both when released. Sessions created under
// an older configuration snapshot are closed instead of being reused.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "github.com/ajitpratap0/pgpool/pkg/config"
//	    "github.com/ajitpratap0/pgpool/pkg/logger"
//	    "github.com/ajitpratap0/pgpool/pkg/pool"
//	    "github.com/ajitpratap0/pgpool/pkg/sqlutil"
//	)
//
//	cfg := config.NewPoolConfig("postgres://app@localhost/app")
//	cfg.MaxConnections = 16
//	cfg.RecyclingMethod = config.RecyclingVerified
//
//	p, err := pool.New(cfg, pool.WithLogger(logger.Get()))
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
//	var name string
//	err = obj.QueryRowCached(ctx, sqlutil.NewQuery("SELECT name FROM users WHERE id = $1", 42)).Scan(&name)
//
// # Key Packages
//
//	pkg/pool          - Slots, checkouts, clients, transactions and the connector
//	pkg/session       - Session abstraction, notification streams and savepoints
//	pkg/stmtcache     - Prepared statement cache and weak cache registry
//	pkg/sqlutil       - Query construction, placeholder checks and script splitting
//	pkg/breaker       - Circuit breaker guarding session establishment
//	pkg/config        - Pool configuration snapshots and YAML loading
//	pkg/errors        - Structured error kinds
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus pool metrics
//	pkg/observability - OpenTelemetry tracing
//
// # Notifications
//
// Each session forwards LISTEN/NOTIFY messages into a bounded channel read
// with Client.RecvNotification. Sessions that only read from the socket
// while a request is in flight, such as the default pgx session, deliver
// notifications when Client.PollNotifications is running.
//
// # Configuration
//
// Pools are configured with config.PoolConfig, loaded from YAML with
// config.LoadPoolConfig. Environment variables are supported with
// ${VAR_NAME} syntax. The pgpool command additionally reads PGPOOL_*
// variables.
package pgpool
