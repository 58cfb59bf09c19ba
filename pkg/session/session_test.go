package session_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pgpool/pkg/config"
	"github.com/ajitpratap0/pgpool/pkg/session"
	"github.com/ajitpratap0/pgpool/pkg/session/sessiontest"
)

func TestPipeDeliversInOrderThenEOF(t *testing.T) {
	p := session.NewPipe()
	p.Push(session.NotificationMessage(&pgconn.Notification{Channel: "a", Payload: "1"}))
	p.Push(session.NoticeMessage(&pgconn.Notice{Message: "hello"}))
	p.Close(nil)
	p.Push(session.NotificationMessage(&pgconn.Notification{Channel: "late"}))

	ctx := context.Background()
	m, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.KindNotification, m.Kind)
	assert.Equal(t, "a", m.Notification.Channel)

	m, err = p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.KindNotice, m.Kind)
	assert.Equal(t, "hello", m.Notice.Message)

	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPipeCloseWithError(t *testing.T) {
	p := session.NewPipe()
	boom := errors.New("socket reset")
	p.Close(boom)
	_, err := p.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPipeNextHonoursContext(t *testing.T) {
	p := session.NewPipe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipeWakesBlockedReader(t *testing.T) {
	p := session.NewPipe()
	got := make(chan session.Message, 1)
	go func() {
		m, err := p.Next(context.Background())
		if err == nil {
			got <- m
		}
	}()
	time.Sleep(10 * time.Millisecond)
	p.Push(session.NotificationMessage(&pgconn.Notification{Channel: "wake"}))

	select {
	case m := <-got:
		assert.Equal(t, "wake", m.Notification.Channel)
	case <-time.After(time.Second):
		t.Fatal("reader was not woken")
	}
}

func TestMessageKindString(t *testing.T) {
	assert.Equal(t, "notification", session.KindNotification.String())
	assert.Equal(t, "notice", session.KindNotice.String())
	assert.Equal(t, "unknown", session.MessageKind(9).String())
}

func TestNamedSavepoint(t *testing.T) {
	ctx := context.Background()
	s := sessiontest.NewSession(1)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	sp, err := session.NamedSavepoint(ctx, tx, "before update")
	require.NoError(t, err)
	_, err = sp.Exec(ctx, "UPDATE t SET x = 1")
	require.NoError(t, err)
	require.NoError(t, sp.Rollback(ctx))
	assert.ErrorIs(t, sp.Commit(ctx), session.ErrSavepointDone)

	sp2, err := session.NamedSavepoint(ctx, tx, "second")
	require.NoError(t, err)
	require.NoError(t, sp2.Commit(ctx))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, []string{
		"BEGIN",
		`SAVEPOINT "before update"`,
		"UPDATE t SET x = 1",
		`ROLLBACK TO SAVEPOINT "before update"`,
		`SAVEPOINT "second"`,
		`RELEASE SAVEPOINT "second"`,
		"COMMIT",
	}, s.Statements())
}

func TestDialerFunc(t *testing.T) {
	var called bool
	d := session.DialerFunc(func(ctx context.Context, _ *config.PoolConfig) (session.Session, session.Stream, error) {
		called = true
		return nil, nil, errors.New("nope")
	})
	_, _, err := d.Dial(context.Background(), nil)
	assert.Error(t, err)
	assert.True(t, called)
}
