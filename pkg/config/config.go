package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Timeouts holds the optional per-phase deadlines of a checkout. A nil field
// means the phase is never abandoned. A zero Wait makes slot acquisition
// non-blocking.
type Timeouts struct {
	// Wait bounds waiting for a slot to become available
	Wait *time.Duration `yaml:"wait,omitempty" json:"wait,omitempty"`
	// Create bounds establishing a new session
	Create *time.Duration `yaml:"create,omitempty" json:"create,omitempty"`
	// Recycle bounds validating an idle session before reuse
	Recycle *time.Duration `yaml:"recycle,omitempty" json:"recycle,omitempty"`
}

// NoTimeouts returns a Timeouts with every phase unbounded.
func NoTimeouts() Timeouts {
	return Timeouts{}
}

// WithWait returns a copy of t with the wait deadline set.
func (t Timeouts) WithWait(d time.Duration) Timeouts {
	t.Wait = &d
	return t
}

// WithCreate returns a copy of t with the create deadline set.
func (t Timeouts) WithCreate(d time.Duration) Timeouts {
	t.Create = &d
	return t
}

// WithRecycle returns a copy of t with the recycle deadline set.
func (t Timeouts) WithRecycle(d time.Duration) Timeouts {
	t.Recycle = &d
	return t
}

// Equal reports whether both values bound the same phases with the same durations.
func (t Timeouts) Equal(o Timeouts) bool {
	return durationEqual(t.Wait, o.Wait) &&
		durationEqual(t.Create, o.Create) &&
		durationEqual(t.Recycle, o.Recycle)
}

func (t Timeouts) clone() Timeouts {
	return Timeouts{Wait: cloneDuration(t.Wait), Create: cloneDuration(t.Create), Recycle: cloneDuration(t.Recycle)}
}

func durationEqual(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneDuration(d *time.Duration) *time.Duration {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// RecyclingMethod selects how an idle session is validated before reuse.
type RecyclingMethod string

const (
	// RecyclingFast assumes an idle session is still valid.
	RecyclingFast RecyclingMethod = "fast"
	// RecyclingVerified issues an empty query to confirm liveness.
	RecyclingVerified RecyclingMethod = "verified"
	// RecyclingClean resets all session-local state before reuse.
	RecyclingClean RecyclingMethod = "clean"
)

const cleanScript = `CLOSE ALL;
SET SESSION AUTHORIZATION DEFAULT;
RESET ALL;
UNLISTEN *;
SELECT pg_advisory_unlock_all();
DISCARD TEMP;
DISCARD SEQUENCES;`

// Query returns the simple-protocol statement the method runs, and false
// when nothing is run.
func (m RecyclingMethod) Query() (string, bool) {
	switch m {
	case RecyclingVerified:
		return "", true
	case RecyclingClean:
		return cleanScript, true
	default:
		return "", false
	}
}

// ParseRecyclingMethod parses a method name case-insensitively. An empty
// string selects RecyclingFast.
func ParseRecyclingMethod(s string) (RecyclingMethod, error) {
	switch m := RecyclingMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return RecyclingFast, nil
	case RecyclingFast, RecyclingVerified, RecyclingClean:
		return m, nil
	default:
		return "", fmt.Errorf("unknown recycling method %q", s)
	}
}

// BreakerConfig configures the circuit breaker guarding session establishment.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// SuccessThreshold is the number of half-open successes before closing
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
	// Timeout is how long the breaker stays open before probing again
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// RejectBackoff is the sleep after a rejected attempt
	RejectBackoff time.Duration `yaml:"reject_backoff" json:"reject_backoff"`
	// FailureRate opens the breaker when the windowed failure rate exceeds it (0 disables)
	FailureRate float64 `yaml:"failure_rate" json:"failure_rate"`
	// MinRequests is the windowed sample size required before FailureRate applies
	MinRequests int `yaml:"min_requests" json:"min_requests"`
}

// PoolConfig is a point-in-time snapshot of pool settings.
type PoolConfig struct {
	// Name identifies the pool in logs and metrics
	Name string `yaml:"name" json:"name"`
	// ConnString is the libpq-style URL or keyword/value string
	ConnString string `yaml:"conn_string" json:"-"`
	// Timeouts are the default per-phase checkout deadlines
	Timeouts Timeouts `yaml:"timeouts" json:"timeouts"`
	// ReadOnly marks every session as read-only
	ReadOnly bool `yaml:"read_only" json:"read_only"`
	// MaxConnections is the number of slots
	MaxConnections int `yaml:"max_connections" json:"max_connections"`
	// MaxRetries is the connect attempt budget
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// ChannelSize is the capacity of each session's notification channel
	ChannelSize int `yaml:"channel_size" json:"channel_size"`
	// NotifySendTimeout bounds forwarding one notification to a slow receiver
	NotifySendTimeout time.Duration `yaml:"notify_send_timeout" json:"notify_send_timeout"`
	// RecyclingMethod selects idle session validation
	RecyclingMethod RecyclingMethod `yaml:"recycling_method" json:"recycling_method"`
	// CleanupInterval is how often dead statement cache entries are pruned
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	// Breaker guards session establishment
	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`
}

// NewPoolConfig creates a PoolConfig with defaults for the given connection string.
func NewPoolConfig(connString string) *PoolConfig {
	return &PoolConfig{
		Name:              "default",
		ConnString:        connString,
		Timeouts:          NoTimeouts(),
		ReadOnly:          false,
		MaxConnections:    runtime.NumCPU() * 4,
		MaxRetries:        6,
		ChannelSize:       64,
		NotifySendTimeout: 3 * time.Second,
		RecyclingMethod:   RecyclingFast,
		CleanupInterval:   30 * time.Second,
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Timeout:          10 * time.Second,
			RejectBackoff:    time.Second,
		},
	}
}

// ApplyDefaults fills zero-valued fields with the defaults of NewPoolConfig.
// It is used after decoding partial configuration files.
func (c *PoolConfig) ApplyDefaults() {
	def := NewPoolConfig(c.ConnString)
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.ChannelSize == 0 {
		c.ChannelSize = def.ChannelSize
	}
	if c.NotifySendTimeout == 0 {
		c.NotifySendTimeout = def.NotifySendTimeout
	}
	if c.RecyclingMethod == "" {
		c.RecyclingMethod = def.RecyclingMethod
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = def.Breaker.FailureThreshold
	}
	if c.Breaker.SuccessThreshold == 0 {
		c.Breaker.SuccessThreshold = def.Breaker.SuccessThreshold
	}
	if c.Breaker.Timeout == 0 {
		c.Breaker.Timeout = def.Breaker.Timeout
	}
	if c.Breaker.RejectBackoff == 0 {
		c.Breaker.RejectBackoff = def.Breaker.RejectBackoff
	}
}

// Validate validates the configuration for correctness.
func (c *PoolConfig) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive")
	}
	if c.ChannelSize < 0 {
		return fmt.Errorf("channel_size cannot be negative")
	}
	if c.NotifySendTimeout <= 0 {
		return fmt.Errorf("notify_send_timeout must be positive")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive")
	}
	if _, err := ParseRecyclingMethod(string(c.RecyclingMethod)); err != nil {
		return err
	}
	for name, d := range map[string]*time.Duration{
		"wait":    c.Timeouts.Wait,
		"create":  c.Timeouts.Create,
		"recycle": c.Timeouts.Recycle,
	} {
		if d != nil && *d < 0 {
			return fmt.Errorf("timeouts.%s cannot be negative", name)
		}
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if c.Breaker.FailureRate < 0 || c.Breaker.FailureRate > 1 {
		return fmt.Errorf("breaker.failure_rate must be within [0, 1]")
	}
	if c.ConnString != "" {
		if _, err := c.ParseConnString(); err != nil {
			return err
		}
	}
	return nil
}

// ParseConnString parses ConnString into a pgconn configuration.
func (c *PoolConfig) ParseConnString() (*pgconn.Config, error) {
	cfg, err := pgconn.ParseConfig(c.ConnString)
	if err != nil {
		return nil, fmt.Errorf("invalid conn_string: %w", err)
	}
	return cfg, nil
}

// Database returns the database name from ConnString, or "Unnamed".
func (c *PoolConfig) Database() string {
	if c.ConnString == "" {
		return "Unnamed"
	}
	cfg, err := c.ParseConnString()
	if err != nil || cfg.Database == "" {
		return "Unnamed"
	}
	return cfg.Database
}

// Clone returns a deep copy suitable for modification and ReplaceConfig.
func (c *PoolConfig) Clone() *PoolConfig {
	cp := *c
	cp.Timeouts = c.Timeouts.clone()
	return &cp
}

// Equal reports whether both snapshots hold the same settings.
func (c *PoolConfig) Equal(o *PoolConfig) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Name == o.Name &&
		c.ConnString == o.ConnString &&
		c.Timeouts.Equal(o.Timeouts) &&
		c.ReadOnly == o.ReadOnly &&
		c.MaxConnections == o.MaxConnections &&
		c.MaxRetries == o.MaxRetries &&
		c.ChannelSize == o.ChannelSize &&
		c.NotifySendTimeout == o.NotifySendTimeout &&
		c.RecyclingMethod == o.RecyclingMethod &&
		c.CleanupInterval == o.CleanupInterval &&
		c.Breaker == o.Breaker
}
