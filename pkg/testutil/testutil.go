// Package testutil provides helpers shared by pgpool tests.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/pgpool/pkg/config"
)

// DatabaseURLEnv names the variable holding the connection string of the
// database used by integration tests.
const DatabaseURLEnv = "PGPOOL_TEST_DATABASE_URL"

// TestLogger creates a logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// TestPoolConfig returns a small configuration suitable for unit tests:
// two slots, three connection attempts and short background intervals.
func TestPoolConfig(connString string) *config.PoolConfig {
	cfg := config.NewPoolConfig(connString)
	cfg.Name = "test"
	cfg.MaxConnections = 2
	cfg.MaxRetries = 3
	cfg.CleanupInterval = 10 * time.Millisecond
	cfg.NotifySendTimeout = 100 * time.Millisecond
	cfg.Breaker.RejectBackoff = 5 * time.Millisecond
	return cfg
}

// DatabaseURL returns the integration database connection string, skipping
// the test when none is configured or in short mode.
func DatabaseURL(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	url := os.Getenv(DatabaseURLEnv)
	if url == "" {
		t.Skipf("%s not set", DatabaseURLEnv)
	}
	return url
}

// AssertEventually asserts that a condition becomes true within timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
