package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrorTypeClosed, "pool is closed")
	assert.Equal(t, "closed: pool is closed", err.Error())

	wrapped := Wrap(context.DeadlineExceeded, ErrorTypeTimeout, "waiting for slot")
	assert.Equal(t, "timeout: waiting for slot: context deadline exceeded", wrapped.Error())
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeProtocol, "nothing"))
	assert.NoError(t, Protocol(nil, "nothing"))
}

func TestWrapPreservesStack(t *testing.T) {
	inner := New(ErrorTypeProtocol, "prepare failed")
	outer := Wrap(inner, ErrorTypeConnection, "connect failed")

	assert.Equal(t, inner.Stack, outer.Stack)
	assert.True(t, IsConnect(outer))
	assert.ErrorIs(t, outer, ErrProtocol)
}

func TestSentinels(t *testing.T) {
	err := Wrap(errors.New("boom"), ErrorTypeTimeout, "creating session")

	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrClosed)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsClosed(err))
}

func TestProtocolKeepsPgError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "42601", Message: "syntax error"}

	err := Protocol(pgErr, "query failed")
	require.Error(t, err)
	assert.True(t, IsType(err, ErrorTypeProtocol))

	var target *pgconn.PgError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "42601", target.Code)

	// already typed errors pass through untouched
	typed := New(ErrorTypeReadOnly, "write on read-only session")
	assert.Same(t, typed, Protocol(typed, "query failed"))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeTimeout, "x")))
	assert.True(t, IsRetryable(New(ErrorTypeRecycling, "x")))
	assert.False(t, IsRetryable(New(ErrorTypeSQLFormat, "x")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeConnection, "retry budget exhausted").
		WithDetail("attempts", 3).
		WithDetail("database", "app")

	assert.Equal(t, 3, err.Details["attempts"])
	assert.Equal(t, "app", err.Details["database"])
	assert.NotEmpty(t, err.Stack)
}
