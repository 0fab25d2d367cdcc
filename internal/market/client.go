// Package market provides the yield and price data clients. Client talks to
// a yields aggregator REST API; CachedProvider layers short-TTL caching on
// top so the scanner and risk engine do not hammer the upstream.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// rateLimitKey buckets all aggregator calls under one upstream quota.
const rateLimitKey = "yields_api"

// Client is the REST client for the yields aggregator API. It implements
// domain.MarketDataProvider.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    domain.RateLimiter // optional
}

// NewClient creates a yields API client.
//
// baseURL is the aggregator root, e.g. "https://yields.llama.fi".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SetRateLimiter throttles all requests through the given limiter. Without
// one the client calls the upstream at whatever pace the engine drives it.
func (c *Client) SetRateLimiter(rl domain.RateLimiter) {
	c.limiter = rl
}

type yieldResponse struct {
	APY         float64 `json:"apy"`
	TVLUSD      float64 `json:"tvlUsd"`
	Protocol    string  `json:"project"`
	Asset       string  `json:"symbol"`
	PoolAddress string  `json:"pool"`
}

type priceResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// GetYield fetches the current APY and TVL for one protocol/asset pool.
func (c *Client) GetYield(ctx context.Context, protocol, asset string) (domain.YieldInfo, error) {
	q := url.Values{}
	q.Set("project", protocol)
	q.Set("symbol", asset)

	var resp yieldResponse
	if err := c.getJSON(ctx, "/pool?"+q.Encode(), &resp); err != nil {
		return domain.YieldInfo{}, &domain.ProviderError{Protocol: protocol, Asset: asset, Err: err}
	}
	// Aggregators quote APY in percent.
	return domain.YieldInfo{
		APY:       resp.APY / 100,
		Liquidity: resp.TVLUSD,
	}, nil
}

// GetPrice fetches the USD spot price for an asset symbol.
func (c *Client) GetPrice(ctx context.Context, asset string) (float64, error) {
	var resp priceResponse
	if err := c.getJSON(ctx, "/price/"+url.PathEscape(asset), &resp); err != nil {
		return 0, &domain.ProviderError{Asset: asset, Err: err}
	}
	if resp.Price <= 0 {
		return 0, &domain.ProviderError{Asset: asset, Err: fmt.Errorf("non-positive price %f", resp.Price)}
	}
	return resp.Price, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
