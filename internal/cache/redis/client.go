// Package redis caches market data and coordinates engine instances. All
// keys live under the "sentinel:" namespace so one Redis database can be
// shared with other tooling.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key this package writes.
const keyPrefix = "sentinel"

// key joins parts into a namespaced Redis key, e.g. key("price", "USDC")
// yields "sentinel:price:USDC".
func key(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client wraps the go-redis driver shared by the caches, the lock manager,
// and the rate limiter.
type Client struct {
	rdb *redis.Client
}

// New connects and verifies the connection with a ping.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client for callers that need direct
// access to the driver.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
