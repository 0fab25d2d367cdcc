package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// defaultPriceMaxAge is how long a cached price counts as fresh.
const defaultPriceMaxAge = 30 * time.Second

// PriceCache implements domain.PriceCache using Redis hashes. Each asset's
// price is stored at key "sentinel:price:{asset}" with fields "price" and
// "ts" (Unix
// nanosecond timestamp). Entries older than maxAge read as misses.
type PriceCache struct {
	rdb    *redis.Client
	maxAge time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. maxAge <= 0
// selects the default freshness window.
func NewPriceCache(c *Client, maxAge time.Duration) *PriceCache {
	if maxAge <= 0 {
		maxAge = defaultPriceMaxAge
	}
	return &PriceCache{rdb: c.Underlying(), maxAge: maxAge}
}

func priceKey(asset string) string {
	return key("price", asset)
}

// SetPrice stores the latest price and timestamp for an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, asset string, price float64, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(asset), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", asset, err)
	}
	return nil
}

// GetPrice retrieves the latest fresh price for an asset. It returns
// domain.ErrNotFound when the key does not exist or the entry is stale.
func (pc *PriceCache) GetPrice(ctx context.Context, asset string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(asset)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", asset, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, ts, err := parsePriceFields(vals)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: price %s: %w", asset, err)
	}
	if time.Since(ts) > pc.maxAge {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price, ts, nil
}

func parsePriceFields(vals map[string]string) (float64, time.Time, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse price: %w", err)
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse ts: %w", err)
	}
	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
