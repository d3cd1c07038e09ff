package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "ni:abc:1", []byte(`{"name":"Maria"}`), 5*time.Minute)

	got, found := c.Get(ctx, "ni:abc:1")
	require.True(t, found)
	assert.Equal(t, []byte(`{"name":"Maria"}`), got)
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	_, found := c.Get(context.Background(), "no-such-key")
	assert.False(t, found)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "pv:abc", []byte("hello"), 30*time.Millisecond)

	_, found := c.Get(ctx, "pv:abc")
	require.True(t, found, "entry should be readable before its TTL elapses")

	time.Sleep(50 * time.Millisecond)

	_, found = c.Get(ctx, "pv:abc")
	assert.False(t, found, "entry should be gone after its TTL elapses")
}

func TestMemoryCacheAlreadyExpiredWrite(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "pv:old", []byte("stale"), -time.Second)

	_, found := c.Get(ctx, "pv:old")
	assert.False(t, found, "a write that is already expired must not be returned")
}

func TestMemoryCacheOverwrite(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v1"), time.Minute)
	c.Set(ctx, "k", []byte("v2"), time.Minute)

	got, found := c.Get(ctx, "k")
	require.True(t, found)
	assert.Equal(t, []byte("v2"), got)
}
