package testutil

import (
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgpool/pkg/config"
)

// IntegrationSuite provides base functionality for tests that run against a
// live database named by DatabaseURLEnv. The suite is skipped when the
// variable is unset.
type IntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	connStr   string
	logger    *zap.Logger
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationSuite) SetupSuite() {
	s.connStr = DatabaseURL(s.T())
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.logger = zap.NewNop()
	s.startTime = time.Now()
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationSuite) TearDownSuite() {
	if s.cancel != nil {
		s.cancel()
	}
	s.T().Logf("Integration suite completed in %v", time.Since(s.startTime))
}

// Context returns the suite context
func (s *IntegrationSuite) Context() context.Context {
	return s.ctx
}

// Logger returns the logger handed to pools created by the suite.
func (s *IntegrationSuite) Logger() *zap.Logger {
	return s.logger
}

// PoolConfig returns a configuration for the integration database.
func (s *IntegrationSuite) PoolConfig() *config.PoolConfig {
	cfg := TestPoolConfig(s.connStr)
	cfg.Name = "integration"
	cfg.Timeouts = config.NoTimeouts().
		WithWait(5 * time.Second).
		WithCreate(10 * time.Second).
		WithRecycle(5 * time.Second)
	return cfg
}

// TableName returns a table name unique to the running test.
func (s *IntegrationSuite) TableName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

// Eventually wraps require.Eventually with the suite's test.
func (s *IntegrationSuite) Eventually(condition func() bool, msg string) {
	require.Eventually(s.T(), condition, 5*time.Second, 10*time.Millisecond, msg)
}

// CheckoutBenchmark measures checkout throughput and memory use.
type CheckoutBenchmark struct {
	t         *testing.T
	name      string
	threshold struct {
		minThroughput float64 // checkouts/sec
		maxLatency    time.Duration
	}
}

// NewCheckoutBenchmark creates a new checkout benchmark
func NewCheckoutBenchmark(t *testing.T, name string) *CheckoutBenchmark {
	return &CheckoutBenchmark{t: t, name: name}
}

// WithThroughputTarget sets minimum throughput requirement
func (b *CheckoutBenchmark) WithThroughputTarget(perSec float64) *CheckoutBenchmark {
	b.threshold.minThroughput = perSec
	return b
}

// WithLatencyTarget sets the maximum average checkout latency
func (b *CheckoutBenchmark) WithLatencyTarget(maxLatency time.Duration) *CheckoutBenchmark {
	b.threshold.maxLatency = maxLatency
	return b
}

// Run executes fn, which reports how many checkouts it completed, and checks
// the configured targets.
func (b *CheckoutBenchmark) Run(fn func() (checkouts int64, duration time.Duration)) {
	b.t.Helper()

	initial := CaptureMemoryProfile()
	n, duration := fn()
	if n == 0 || duration <= 0 {
		b.t.Fatalf("%s: no checkouts recorded", b.name)
	}
	throughput := float64(n) / duration.Seconds()
	avgLatency := duration / time.Duration(n)
	final := CaptureMemoryProfile()

	b.t.Logf("Checkout benchmark: %s", b.name)
	b.t.Logf("  Checkouts: %d", n)
	b.t.Logf("  Throughput: %.0f/sec", throughput)
	b.t.Logf("  Avg Latency: %v", avgLatency)
	b.t.Logf("  Allocated: %s", formatBytes(int64(final.TotalAlloc-initial.TotalAlloc)))

	if b.threshold.minThroughput > 0 && throughput < b.threshold.minThroughput {
		b.t.Errorf("Throughput %.0f/sec below target %.0f/sec", throughput, b.threshold.minThroughput)
	}
	if b.threshold.maxLatency > 0 && avgLatency > b.threshold.maxLatency {
		b.t.Errorf("Latency %v exceeds target %v", avgLatency, b.threshold.maxLatency)
	}
}

// MemoryProfile captures memory statistics
type MemoryProfile struct {
	TotalAlloc uint64
	Mallocs    uint64
	HeapInuse  uint64
}

// CaptureMemoryProfile captures current memory profile
func CaptureMemoryProfile() *MemoryProfile {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &MemoryProfile{
		TotalAlloc: m.TotalAlloc,
		Mallocs:    m.Mallocs,
		HeapInuse:  m.HeapInuse,
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
