package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRejectsBadLevel(t *testing.T) {
	err := Init(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestGetDefaults(t *testing.T) {
	require.NoError(t, Init(Config{Level: "debug", Encoding: "console", OutputPaths: []string{"stderr"}}))
	assert.NotNil(t, Get())
	assert.True(t, Get().Core().Enabled(-1))
}

func TestWithContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), PoolKey, "primary")
	ctx = context.WithValue(ctx, SessionKey, uint64(7))

	assert.NotNil(t, WithContext(ctx))
	assert.NotNil(t, WithContext(context.Background()))
}
