package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPoolConfigDefaults(t *testing.T) {
	cfg := NewPoolConfig("postgres://app@localhost:5432/appdb")

	assert.Positive(t, cfg.MaxConnections)
	assert.Equal(t, 6, cfg.MaxRetries)
	assert.Equal(t, 64, cfg.ChannelSize)
	assert.Equal(t, RecyclingFast, cfg.RecyclingMethod)
	assert.Equal(t, 3*time.Second, cfg.NotifySendTimeout)
	assert.Nil(t, cfg.Timeouts.Wait)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "appdb", cfg.Database())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PoolConfig)
		wantErr string
	}{
		{"zero max connections", func(c *PoolConfig) { c.MaxConnections = 0 }, "max_connections"},
		{"zero retries", func(c *PoolConfig) { c.MaxRetries = 0 }, "max_retries"},
		{"bad recycling", func(c *PoolConfig) { c.RecyclingMethod = "thorough" }, "recycling method"},
		{"negative wait", func(c *PoolConfig) { c.Timeouts = c.Timeouts.WithWait(-time.Second) }, "timeouts.wait"},
		{"zero cleanup interval", func(c *PoolConfig) { c.CleanupInterval = 0 }, "cleanup_interval"},
		{"bad failure rate", func(c *PoolConfig) { c.Breaker.FailureRate = 2 }, "failure_rate"},
		{"bad conn string", func(c *PoolConfig) { c.ConnString = "postgres://%zz" }, "conn_string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewPoolConfig("")
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTimeoutsBuilder(t *testing.T) {
	base := NoTimeouts()
	withWait := base.WithWait(100 * time.Millisecond).WithCreate(time.Second)

	assert.Nil(t, base.Wait, "builder must not mutate the receiver")
	require.NotNil(t, withWait.Wait)
	assert.Equal(t, 100*time.Millisecond, *withWait.Wait)
	assert.Equal(t, time.Second, *withWait.Create)
	assert.Nil(t, withWait.Recycle)

	assert.True(t, withWait.Equal(NoTimeouts().WithCreate(time.Second).WithWait(100*time.Millisecond)))
	assert.False(t, withWait.Equal(base))
}

func TestRecyclingQuery(t *testing.T) {
	_, ok := RecyclingFast.Query()
	assert.False(t, ok)

	q, ok := RecyclingVerified.Query()
	assert.True(t, ok)
	assert.Empty(t, q)

	q, ok = RecyclingClean.Query()
	assert.True(t, ok)
	assert.Contains(t, q, "UNLISTEN *")
	assert.Contains(t, q, "pg_advisory_unlock_all")
	assert.Contains(t, q, "DISCARD TEMP")

	m, err := ParseRecyclingMethod(" Verified ")
	require.NoError(t, err)
	assert.Equal(t, RecyclingVerified, m)
}

func TestCloneAndEqual(t *testing.T) {
	cfg := NewPoolConfig("postgres://localhost/app")
	cfg.Timeouts = cfg.Timeouts.WithWait(time.Second)

	cp := cfg.Clone()
	assert.True(t, cfg.Equal(cp))
	assert.NotSame(t, cfg, cp)

	*cp.Timeouts.Wait = 2 * time.Second
	assert.Equal(t, time.Second, *cfg.Timeouts.Wait, "clone must not share timeout pointers")
	assert.False(t, cfg.Equal(cp))

	cp = cfg.Clone()
	cp.ReadOnly = true
	assert.False(t, cfg.Equal(cp))
}

func TestLoadPoolConfig(t *testing.T) {
	t.Setenv("PGPOOL_TEST_URL", "postgres://loader@localhost/loaded")

	content := `
name: primary
conn_string: ${PGPOOL_TEST_URL}
max_connections: 2
max_retries: 3
recycling_method: clean
timeouts:
  wait: 100ms
  create: 5s
breaker:
  failure_threshold: 5
`
	path := filepath.Join(t.TempDir(), "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadPoolConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "primary", cfg.Name)
	assert.Equal(t, "loaded", cfg.Database())
	assert.Equal(t, 2, cfg.MaxConnections)
	assert.Equal(t, RecyclingClean, cfg.RecyclingMethod)
	require.NotNil(t, cfg.Timeouts.Wait)
	assert.Equal(t, 100*time.Millisecond, *cfg.Timeouts.Wait)
	assert.Nil(t, cfg.Timeouts.Recycle)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, time.Second, cfg.Breaker.RejectBackoff, "defaults fill unset fields")
	assert.Equal(t, 64, cfg.ChannelSize)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("PGPOOL_A", "alpha")

	assert.Equal(t, "x alpha y  z", substituteEnvVars("x ${PGPOOL_A} y ${PGPOOL_UNSET_VAR} z"))
	assert.Equal(t, "unterminated ${PGPOOL_A", substituteEnvVars("unterminated ${PGPOOL_A"))
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := NewPoolConfig("postgres://localhost/app")
	cfg.Name = "saved"
	path := filepath.Join(t.TempDir(), "saved.yaml")

	require.NoError(t, Save(path, cfg))
	loaded, err := LoadPoolConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Equal(loaded))
}
