package inventory

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*StockCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStockCache(client), mr
}

func TestStockCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, ok := cache.Get(ctx, 7)
	require.False(t, ok)

	cache.Set(ctx, 7, 142.5)
	stock, ok := cache.Get(ctx, 7)
	require.True(t, ok)
	require.InDelta(t, 142.5, stock, 1e-9)

	cache.Invalidate(ctx, 7)
	_, ok = cache.Get(ctx, 7)
	require.False(t, ok)
}

func TestStockCacheExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, 7, 10)
	mr.FastForward(stockCacheTTL + 1)
	_, ok := cache.Get(ctx, 7)
	require.False(t, ok)
}

func TestStockCacheNilSafe(t *testing.T) {
	var cache *StockCache
	ctx := context.Background()

	_, ok := cache.Get(ctx, 1)
	require.False(t, ok)
	cache.Set(ctx, 1, 5)
	cache.Invalidate(ctx, 1)
	require.Error(t, cache.Healthy(ctx))
}
