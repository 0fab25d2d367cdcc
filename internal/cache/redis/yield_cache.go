package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// defaultYieldMaxAge is how long a cached yield counts as fresh. Yields move
// slowly, so this is longer than the price window.
const defaultYieldMaxAge = 5 * time.Minute

// YieldCache implements domain.YieldCache using Redis hashes. Each pool is
// stored at key "sentinel:yield:{protocol}:{asset}" with fields "apy", "liquidity",
// and "ts". Entries older than maxAge read as misses.
type YieldCache struct {
	rdb    *redis.Client
	maxAge time.Duration
}

// NewYieldCache creates a YieldCache backed by the given Client. maxAge <= 0
// selects the default freshness window.
func NewYieldCache(c *Client, maxAge time.Duration) *YieldCache {
	if maxAge <= 0 {
		maxAge = defaultYieldMaxAge
	}
	return &YieldCache{rdb: c.Underlying(), maxAge: maxAge}
}

func yieldKey(protocol, asset string) string {
	return key("yield", protocol, asset)
}

// SetYield stores the latest yield info for a pool.
func (yc *YieldCache) SetYield(ctx context.Context, protocol, asset string, info domain.YieldInfo, ts time.Time) error {
	fields := map[string]interface{}{
		"apy":       strconv.FormatFloat(info.APY, 'f', -1, 64),
		"liquidity": strconv.FormatFloat(info.Liquidity, 'f', -1, 64),
		"ts":        strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := yc.rdb.HSet(ctx, yieldKey(protocol, asset), fields).Err(); err != nil {
		return fmt.Errorf("redis: set yield %s/%s: %w", protocol, asset, err)
	}
	return nil
}

// GetYield retrieves the latest fresh yield info for a pool. It returns
// domain.ErrNotFound when the key does not exist or the entry is stale.
func (yc *YieldCache) GetYield(ctx context.Context, protocol, asset string) (domain.YieldInfo, time.Time, error) {
	vals, err := yc.rdb.HGetAll(ctx, yieldKey(protocol, asset)).Result()
	if err != nil {
		return domain.YieldInfo{}, time.Time{}, fmt.Errorf("redis: get yield %s/%s: %w", protocol, asset, err)
	}
	if len(vals) == 0 {
		return domain.YieldInfo{}, time.Time{}, domain.ErrNotFound
	}

	apyStr, ok := vals["apy"]
	if !ok {
		return domain.YieldInfo{}, time.Time{}, domain.ErrNotFound
	}
	apy, err := strconv.ParseFloat(apyStr, 64)
	if err != nil {
		return domain.YieldInfo{}, time.Time{}, fmt.Errorf("redis: parse apy %s/%s: %w", protocol, asset, err)
	}
	liquidity, _ := strconv.ParseFloat(vals["liquidity"], 64)

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.YieldInfo{}, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.YieldInfo{}, time.Time{}, fmt.Errorf("redis: parse ts %s/%s: %w", protocol, asset, err)
	}
	ts := time.Unix(0, tsNano)
	if time.Since(ts) > yc.maxAge {
		return domain.YieldInfo{}, time.Time{}, domain.ErrNotFound
	}

	return domain.YieldInfo{APY: apy, Liquidity: liquidity}, ts, nil
}

// Compile-time interface check.
var _ domain.YieldCache = (*YieldCache)(nil)
