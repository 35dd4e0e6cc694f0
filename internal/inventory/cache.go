package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const stockCacheTTL = 5 * time.Minute

// StockCache is a read-through cache for current stock levels. The database
// stays authoritative; every adjustment invalidates the key.
type StockCache struct {
	client *redis.Client
}

// NewStockCache constructs the cache. A nil client disables caching.
func NewStockCache(client *redis.Client) *StockCache {
	return &StockCache{client: client}
}

func stockKey(itemID int64) string {
	return fmt.Sprintf("stock:%d", itemID)
}

// Get returns the cached stock level and whether it was present.
func (c *StockCache) Get(ctx context.Context, itemID int64) (float64, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}
	raw, err := c.client.Get(ctx, stockKey(itemID)).Result()
	if err != nil {
		return 0, false
	}
	stock, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return stock, true
}

// Set stores the stock level.
func (c *StockCache) Set(ctx context.Context, itemID int64, stock float64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, stockKey(itemID), strconv.FormatFloat(stock, 'f', -1, 64), stockCacheTTL).Err()
}

// Invalidate drops the cached level after an adjustment.
func (c *StockCache) Invalidate(ctx context.Context, itemID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, stockKey(itemID)).Err()
}

// Healthy reports whether the backing redis answers pings.
func (c *StockCache) Healthy(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("inventory: stock cache not configured")
	}
	return c.client.Ping(ctx).Err()
}
