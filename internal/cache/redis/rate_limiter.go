package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowScript string

// retryInterval paces Wait's polling when the window is saturated.
const retryInterval = 50 * time.Millisecond

// RateLimiter throttles calls to external APIs with a sliding window over a
// Redis sorted set, keyed under sentinel:rl:*. The window survives process
// restarts, so a crash loop cannot hammer an upstream.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowScript),
	}
}

// Allow counts one request against the named window and reports whether it
// fits under the limit. Denied requests are not counted.
func (rl *RateLimiter) Allow(ctx context.Context, name string, limit int, window time.Duration) (bool, error) {
	res, err := rl.script.Run(
		ctx,
		rl.rdb,
		[]string{key("rl", name)},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", name, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: rate limit %s: script returned %d values", name, len(res))
	}
	return res[0] == 1, nil
}

// Wait blocks until one request fits under the default allowance of one
// call per second, polling until then. Callers needing a different limit
// drive Allow in their own loop.
func (rl *RateLimiter) Wait(ctx context.Context, name string) error {
	for {
		allowed, err := rl.Allow(ctx, name, 1, time.Second)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", name, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
