package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgpool/pkg/metrics"
	"github.com/ajitpratap0/pgpool/pkg/session"
)

// Option configures a Pool.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	registerer     prometheus.Registerer
	metrics        *metrics.PoolMetrics
	tracerProvider trace.TracerProvider
	dialer         session.Dialer
	connector      Connector
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers the pool's metrics on reg instead of a private
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithMetrics reports to m, which takes precedence over WithRegisterer.
func WithMetrics(m *metrics.PoolMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider traces checkouts with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithDialer establishes sessions with d. The default dials with pgx.
func WithDialer(d session.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithConnector replaces the retrying connector entirely. WithDialer is
// ignored when it is set.
func WithConnector(c Connector) Option {
	return func(o *options) { o.connector = c }
}
