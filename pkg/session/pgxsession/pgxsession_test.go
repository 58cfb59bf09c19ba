package pgxsession

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/pgpool/pkg/config"
	"github.com/ajitpratap0/pgpool/pkg/session"
)

func TestStatementName(t *testing.T) {
	a := StatementName("SELECT 1")
	assert.Equal(t, a, StatementName("SELECT 1"))
	assert.NotEqual(t, a, StatementName("SELECT 2"))
	assert.Regexp(t, `^pgpool_[0-9a-f]+$`, a)
}

func TestDialInvalidConnString(t *testing.T) {
	d := NewDialer(zaptest.NewLogger(t))
	cfg := config.NewPoolConfig("postgres://localhost:notaport/db")
	_, _, err := d.Dial(context.Background(), cfg)
	assert.Error(t, err)
}

func TestDialNotifications(t *testing.T) {
	url := os.Getenv("PGPOOL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PGPOOL_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d := NewDialer(zaptest.NewLogger(t))
	s, stream, err := d.Dial(ctx, config.NewPoolConfig(url))
	require.NoError(t, err)
	defer s.Close(ctx)

	require.NoError(t, s.SimpleQuery(ctx, "LISTEN pgxsession_test"))
	_, err = s.Exec(ctx, "SELECT pg_notify('pgxsession_test', 'hello')")
	require.NoError(t, err)

	m, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.KindNotification, m.Kind)
	assert.Equal(t, "hello", m.Notification.Payload)

	sd, err := s.Prepare(ctx, "SELECT $1::int + 1", nil)
	require.NoError(t, err)
	var n int
	require.NoError(t, s.QueryRow(ctx, sd.Name, 41).Scan(&n))
	assert.Equal(t, 42, n)
}
