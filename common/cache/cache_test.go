package cache

import (
	"context"
	"testing"
	"time"

	"github.com/casemirror/dataflow/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(logger.Discard())
	defer c.Close()

	require.NoError(t, c.Set(ctx, "case-summary:081-24-00001", []byte(`{"case_id":"081-24-00001"}`), time.Minute))

	value, ok, err := c.Get(ctx, "case-summary:081-24-00001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"case_id":"081-24-00001"}`, string(value))

	require.NoError(t, c.Delete(ctx, "case-summary:081-24-00001"))
	_, ok, _ = c.Get(ctx, "case-summary:081-24-00001")
	assert.False(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(logger.Discard())
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), -time.Second))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_CloseIsIdempotent(t *testing.T) {
	c := NewMemoryCache(logger.Discard())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	// writes after close are dropped rather than panicking
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))
	_, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
